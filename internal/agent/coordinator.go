// Package agent runs the turn loop: permission gate, then alternating
// stream decode and tool dispatch until the model stops calling tools or a
// budget is spent, then response integration. One Coordinator serves all
// conversations; turns within a conversation are serialized.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kitaworks/agentcore/internal/audit"
	"github.com/kitaworks/agentcore/internal/backend"
	"github.com/kitaworks/agentcore/internal/config"
	"github.com/kitaworks/agentcore/internal/dispatch"
	"github.com/kitaworks/agentcore/internal/gate"
	"github.com/kitaworks/agentcore/internal/integrate"
	"github.com/kitaworks/agentcore/internal/observability"
	"github.com/kitaworks/agentcore/internal/progress"
	"github.com/kitaworks/agentcore/internal/sessions"
	"github.com/kitaworks/agentcore/internal/stream"
	"github.com/kitaworks/agentcore/internal/toolconv"
	"github.com/kitaworks/agentcore/pkg/models"
)

// Coordinator composes the gate, decoder, dispatcher, and integrator into
// the full request pipeline.
type Coordinator struct {
	gate       *gate.Gate
	decoder    *stream.Decoder
	dispatcher *dispatch.Dispatcher
	integrator *integrate.Integrator
	backend    *backend.Client
	store      sessions.Store
	locker     sessions.Locker
	auditor    *audit.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	loopCfg    config.LoopConfig
	decoderCfg config.DecoderConfig
	logger     *slog.Logger
}

// Deps are the coordinator's constructor dependencies. Gate, Decoder,
// Dispatcher, Backend, and Store are required; the rest default to no-ops.
type Deps struct {
	Gate       *gate.Gate
	Decoder    *stream.Decoder
	Dispatcher *dispatch.Dispatcher
	Integrator *integrate.Integrator
	Backend    *backend.Client
	Store      sessions.Store
	Locker     sessions.Locker
	Auditor    *audit.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Logger     *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps Deps, loopCfg config.LoopConfig, decoderCfg config.DecoderConfig) (*Coordinator, error) {
	if deps.Gate == nil || deps.Decoder == nil || deps.Dispatcher == nil || deps.Backend == nil || deps.Store == nil {
		return nil, errors.New("gate, decoder, dispatcher, backend, and store are required")
	}
	if deps.Integrator == nil {
		deps.Integrator = integrate.New()
	}
	if deps.Locker == nil {
		deps.Locker = sessions.NewLocalLocker(0)
	}
	if deps.Auditor == nil {
		deps.Auditor, _ = audit.NewLogger(audit.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if loopCfg.MaxIterations <= 0 {
		loopCfg.MaxIterations = 10
	}
	return &Coordinator{
		gate:       deps.Gate,
		decoder:    deps.Decoder,
		dispatcher: deps.Dispatcher,
		integrator: deps.Integrator,
		backend:    deps.Backend,
		store:      deps.Store,
		locker:     deps.Locker,
		auditor:    deps.Auditor,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		loopCfg:    loopCfg,
		decoderCfg: decoderCfg,
		logger:     deps.Logger,
	}, nil
}

// Process runs one full turn loop for a user request. The progress channel
// receives rate-limited decode status and live tool step events; it may be
// nil. Process never returns an error for tool failures or decode timeouts;
// only unrecoverable failures (canceled context, lock timeout) surface as
// errors, and transport failures resolve through the error-response path.
func (c *Coordinator) Process(ctx context.Context, req *models.UserRequest, prog *progress.Channel) (*models.IntelligentResponse, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "agent.turn",
			attribute.String("conversation_id", req.ConversationID),
			attribute.String("user_id", req.UserID),
		)
		defer span.End()
	}

	analysis := Analyze(req.Message)

	// Permission gate runs before any model call. The audit record is on
	// the sink before the denial returns.
	verdict := c.gate.Check(req)
	if !verdict.Allowed {
		c.auditor.LogDenial(ctx, req.UserID, string(verdict.Role), req.Message, analysis.Intent, verdict.Violation)
		if c.metrics != nil {
			c.metrics.RecordDenial(string(verdict.Role), verdict.Violation)
			c.metrics.RecordTurn("denied", time.Since(start).Seconds())
		}
		resp := c.denialResponse(verdict, analysis, time.Since(start))
		return &resp, nil
	}

	// Serialize turns per conversation: no two decodes may share turn state.
	if err := c.locker.Lock(ctx, req.ConversationID); err != nil {
		return nil, NewLoopError(PhaseInit, 0, err)
	}
	defer c.locker.Unlock(req.ConversationID)

	resp, err := c.runLoop(ctx, req, analysis, prog, start)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Coordinator) runLoop(ctx context.Context, req *models.UserRequest, analysis models.RequestAnalysis, prog *progress.Channel, start time.Time) (*models.IntelligentResponse, error) {
	if _, err := c.store.GetOrCreate(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, NewLoopError(PhaseInit, 0, err)
	}
	userMsg := &models.Message{
		ID:      req.MessageID,
		Role:    models.RoleUser,
		Content: req.Message,
	}
	if err := c.store.AppendMessage(ctx, req.ConversationID, userMsg); err != nil {
		return nil, NewLoopError(PhaseInit, 0, err)
	}
	history, err := c.store.History(ctx, req.ConversationID, c.loopCfg.HistoryLimit)
	if err != nil {
		return nil, NewLoopError(PhaseInit, 0, err)
	}

	tools := toolconv.ToOpenAITools(c.dispatcher.Registry().Definitions())
	dctx := c.dispatchContext(req)
	dispatchCtx := ctx
	if prog != nil {
		dispatchCtx = dispatch.WithEmitter(ctx, prog)
	}

	var (
		allResults   []models.ToolExecutionResult
		finalContent string
		toolCalls    int
		iteration    int
	)

	for iteration = 1; iteration <= c.loopCfg.MaxIterations; iteration++ {
		if c.loopCfg.MaxWallTime > 0 && time.Since(start) > c.loopCfg.MaxWallTime {
			c.logger.Warn("wall time budget spent, ending loop",
				"conversation_id", req.ConversationID,
				"iteration", iteration,
				"reason", ErrWallTime,
			)
			break
		}

		body, err := c.backend.OpenStream(ctx, history, tools)
		if err != nil {
			return c.failTurn(ctx, req, analysis, NewLoopError(PhaseStream, iteration, err), start)
		}

		decodeStart := time.Now()
		result, err := c.decoder.Decode(ctx, body, stream.Options{
			Iteration: iteration,
			// Builtins dispatch without registry entries, so tool-call
			// fragments are always accumulated.
			ToolsEnabled:     true,
			Progress:         c.statusFunc(prog),
			ProgressInterval: c.decoderCfg.ProgressInterval,
			Timeout:          c.decoderCfg.Timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewLoopError(PhaseStream, iteration, ctx.Err())
			}
			return c.failTurn(ctx, req, analysis, NewLoopError(PhaseStream, iteration, err), start)
		}
		if c.metrics != nil {
			c.metrics.RecordDecode(string(result.Termination), time.Since(decodeStart).Seconds())
		}

		// A timeout resolves the whole request with partial state, and a
		// spent tool budget means the calls will never dispatch. Either way
		// the persisted message must not carry tool calls: a tool_calls
		// message with no tool replies is an invalid history for the next
		// turn's backend request.
		dispatchable := result.Termination != stream.TerminatedTimeout && len(result.ToolCalls) > 0
		if dispatchable && c.loopCfg.MaxToolCalls > 0 && toolCalls+len(result.ToolCalls) > c.loopCfg.MaxToolCalls {
			c.logger.Warn("tool call budget spent, ending loop",
				"conversation_id", req.ConversationID,
				"budget", c.loopCfg.MaxToolCalls,
				"reason", ErrToolBudget,
			)
			dispatchable = false
		}

		assistantMsg := &models.Message{
			Role:    models.RoleAssistant,
			Content: result.Content,
		}
		if dispatchable {
			assistantMsg.ToolCalls = result.ToolCalls
		}
		if err := c.store.AppendMessage(ctx, req.ConversationID, assistantMsg); err != nil {
			c.logger.Warn("failed to persist assistant message", "error", err)
		}
		history = append(history, assistantMsg)
		finalContent = result.Content

		if !dispatchable {
			break
		}
		toolCalls += len(result.ToolCalls)

		results := c.dispatcher.DispatchAll(dispatchCtx, result.ToolCalls, dctx)
		allResults = append(allResults, results...)
		for _, r := range results {
			c.auditor.LogToolInvocation(ctx, req.UserID, r.ToolName, r.ToolCallID, r.Success, r.Duration)
			if c.metrics != nil {
				status := "success"
				if !r.Success {
					status = "error"
				} else if r.Status != "" {
					status = r.Status
				}
				c.metrics.RecordToolExecution(r.ToolName, status, r.Duration.Seconds())
			}
		}

		// Results fold into history before the next model turn opens.
		toolMsg := &models.Message{
			Role:        models.RoleTool,
			ToolResults: results,
		}
		if err := c.store.AppendMessage(ctx, req.ConversationID, toolMsg); err != nil {
			c.logger.Warn("failed to persist tool results",
				"phase", PhaseExecuteTools,
				"error", err,
			)
		}
		history = append(history, toolMsg)
	}

	if iteration > c.loopCfg.MaxIterations {
		c.logger.Warn("iteration budget spent, integrating accumulated state",
			"conversation_id", req.ConversationID,
			"max_iterations", c.loopCfg.MaxIterations,
			"reason", ErrMaxIterations,
		)
	}

	elapsed := time.Since(start)
	resp := c.integrator.Integrate(finalContent, allResults, analysis, elapsed)
	c.logger.Debug("turn complete",
		"conversation_id", req.ConversationID,
		"phase", PhaseComplete,
		"iterations", iteration,
		"tool_calls", toolCalls,
	)

	c.auditor.LogTurn(ctx, req.UserID, req.ConversationID, iteration, toolCalls, elapsed)
	if c.metrics != nil {
		status := "success"
		if !resp.Success {
			status = "error"
		}
		c.metrics.RecordTurn(status, elapsed.Seconds())
	}
	return &resp, nil
}

// failTurn routes a fatal turn failure through the error-response path: a
// generic, non-leaking message with a retry recommendation.
func (c *Coordinator) failTurn(ctx context.Context, req *models.UserRequest, analysis models.RequestAnalysis, loopErr *LoopError, start time.Time) (*models.IntelligentResponse, error) {
	c.logger.Error("turn failed",
		"conversation_id", req.ConversationID,
		"phase", loopErr.Phase,
		"iteration", loopErr.Iteration,
		"error", loopErr.Cause,
	)
	if c.metrics != nil {
		c.metrics.RecordError("backend", string(loopErr.Phase))
		c.metrics.RecordTurn("error", time.Since(start).Seconds())
	}
	resp := c.integrator.ErrorResponse(loopErr, analysis, time.Since(start))
	return &resp, nil
}

func (c *Coordinator) denialResponse(verdict models.SecurityVerdict, analysis models.RequestAnalysis, elapsed time.Duration) models.IntelligentResponse {
	return models.IntelligentResponse{
		Success:    false,
		Message:    verdict.Reason,
		Confidence: 0,
		Metadata: models.ResponseMetadata{
			Elapsed:    elapsed,
			Intent:     analysis.Intent,
			Complexity: analysis.Complexity,
		},
	}
}

func (c *Coordinator) dispatchContext(req *models.UserRequest) dispatch.DispatchContext {
	dctx := dispatch.DispatchContext{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
	}
	if token, ok := req.Context["auth_token"].(string); ok {
		dctx.AuthToken = token
	}
	return dctx
}

func (c *Coordinator) statusFunc(prog *progress.Channel) stream.StatusFunc {
	if prog == nil {
		return nil
	}
	return prog.Status
}

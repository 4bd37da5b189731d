package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kitaworks/agentcore/internal/agent"
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
	"github.com/kitaworks/agentcore/internal/tools/websearch"
	"github.com/kitaworks/agentcore/pkg/models"
)

type chatOptions struct {
	configPath     string
	role           string
	userID         string
	conversationID string
	message        string
}

func runChat(ctx context.Context, opts chatOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	coordinator, cleanup, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	conversationID := opts.conversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if opts.message != "" {
		return runTurn(ctx, coordinator, opts, conversationID, opts.message)
	}

	// Interactive session: one turn per line, shared conversation.
	fmt.Fprintln(os.Stderr, "agentcore chat (ctrl-d to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runTurn(ctx, coordinator, opts, conversationID, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runTurn(ctx context.Context, coordinator *agent.Coordinator, opts chatOptions, conversationID, message string) error {
	prog := progress.NewChannel(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range prog.Events() {
			if ev.Status != "" {
				fmt.Fprintf(os.Stderr, "  [status] %s\n", ev.Status)
			}
			if ev.Step != nil {
				fmt.Fprintf(os.Stderr, "  [%s] %s: %s\n", ev.Step.Stage, ev.Step.ToolName, ev.Step.Message)
			}
		}
	}()

	resp, err := coordinator.Process(ctx, &models.UserRequest{
		Message:        message,
		UserID:         opts.userID,
		ConversationID: conversationID,
		Role:           opts.role,
		CreatedAt:      time.Now(),
	}, prog)
	prog.Close()
	<-done
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *models.IntelligentResponse) error {
	fmt.Println(resp.Message)
	for _, rec := range resp.Recommendations {
		fmt.Printf("  → %s: %s\n", rec.Title, rec.Description)
	}
	if len(resp.Directives) > 0 {
		out, err := json.MarshalIndent(resp.Directives, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("directives: %s\n", out)
	}
	fmt.Printf("(confidence %.2f, %d tools, %s)\n",
		resp.Confidence, len(resp.Metadata.ToolsUsed), resp.Metadata.Elapsed.Round(time.Millisecond))
	return nil
}

func buildCoordinator(cfg *config.Config) (*agent.Coordinator, func(), error) {
	logger := slog.Default()

	gateOpts := []gate.Option{gate.WithLogger(logger)}
	if len(cfg.Security.Roles) > 0 {
		profiles := make(map[models.Role]models.RoleProfile, len(cfg.Security.Roles))
		for name, rp := range cfg.Security.Roles {
			profile, err := rp.Profile(models.Role(name))
			if err != nil {
				return nil, nil, fmt.Errorf("invalid role config: %w", err)
			}
			profiles[models.Role(name)] = profile
		}
		gateOpts = append(gateOpts, gate.WithProfiles(profiles))
	}
	if len(cfg.Security.SensitivePatterns) > 0 {
		gateOpts = append(gateOpts, gate.WithExtraSensitivePatterns(cfg.Security.SensitivePatterns))
	}

	execCfg := dispatch.ExecutorConfig{
		MaxConcurrency:  cfg.Executor.MaxConcurrency,
		DefaultTimeout:  cfg.Executor.DefaultTimeout,
		DefaultRetries:  cfg.Executor.DefaultRetries,
		RetryBackoff:    cfg.Executor.RetryBackoff,
		MaxRetryBackoff: cfg.Executor.MaxRetryBackoff,
	}
	dispatcher := dispatch.NewDispatcher(dispatch.NewRegistry(), dispatch.DefaultBridgeTable(), &execCfg, logger)
	dispatcher.RegisterBuiltin(websearch.New(websearch.Config{
		SearXNGURL:         cfg.WebSearch.SearXNGURL,
		DefaultResultCount: cfg.WebSearch.DefaultResultCount,
		CacheTTL:           cfg.WebSearch.CacheTTL,
	}))

	var store sessions.Store
	var err error
	switch cfg.Sessions.Driver {
	case "sqlite":
		store, err = sessions.NewSQLiteStore(cfg.Sessions.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sessions store: %w", err)
		}
	default:
		store = sessions.NewMemoryStore()
	}

	auditor, err := audit.NewLogger(audit.Config{
		Enabled:         cfg.Audit.Enabled,
		Output:          cfg.Audit.Output,
		Format:          audit.Format(cfg.Audit.Format),
		SampleRate:      cfg.Audit.SampleRate,
		HashUserContent: cfg.Audit.HashUserContent,
		MaxFieldLength:  cfg.Audit.MaxFieldLength,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open audit sink: %w", err)
	}

	var tracer *observability.Tracer
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		tracer, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
		})
	}

	coordinator, err := agent.NewCoordinator(agent.Deps{
		Gate:       gate.New(gateOpts...),
		Decoder:    stream.NewDecoder(logger),
		Dispatcher: dispatcher,
		Integrator: integrate.New(),
		Backend: backend.NewClient(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Model:   cfg.Backend.Model,
			System:  cfg.Backend.System,
			Timeout: cfg.Backend.Timeout,
		}),
		Store:   store,
		Locker:  sessions.NewLocalLocker(30 * time.Second),
		Auditor: auditor,
		Metrics: observability.NewMetrics(),
		Tracer:  tracer,
		Logger:  logger,
	}, cfg.Loop, cfg.Decoder)
	if err != nil {
		store.Close()
		auditor.Close()
		return nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
		auditor.Close()
		store.Close()
	}
	return coordinator, cleanup, nil
}

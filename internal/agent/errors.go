package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxIterations indicates the turn loop exceeded its iteration limit
	// without the model producing a final answer.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrToolBudget indicates the per-request tool-call budget was spent.
	ErrToolBudget = errors.New("tool call budget exceeded")

	// ErrWallTime indicates the per-request wall-clock budget was spent.
	ErrWallTime = errors.New("wall time budget exceeded")
)

// LoopPhase identifies a distinct phase in the turn loop lifecycle.
type LoopPhase string

const (
	// PhaseInit covers permission and session setup before the first
	// model call.
	PhaseInit LoopPhase = "init"

	// PhaseStream covers opening and decoding a model turn.
	PhaseStream LoopPhase = "stream"

	// PhaseExecuteTools covers dispatching the turn's tool calls.
	PhaseExecuteTools LoopPhase = "execute_tools"

	// PhaseComplete covers response integration at loop exit.
	PhaseComplete LoopPhase = "complete"
)

// LoopError carries the phase and iteration at which a turn loop failed.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// NewLoopError creates a LoopError wrapping cause.
func NewLoopError(phase LoopPhase, iteration int, cause error) *LoopError {
	return &LoopError{Phase: phase, Iteration: iteration, Cause: cause}
}

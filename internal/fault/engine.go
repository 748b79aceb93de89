package fault

import (
	"errors"
	"fmt"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

// Kind classifies a runtime fault. Each kind carries its own recovery
// strategy and retry bound.
type Kind int

const (
	// KindUnknown covers faults no other kind matches.
	KindUnknown Kind = iota
	// KindContextLost is a lost rendering context. The platform offers no
	// self-heal path; the only recovery is a reload.
	KindContextLost
	// KindChunkLoadFailure is a failed chunk download.
	KindChunkLoadFailure
	// KindMemoryExhaustion is resident memory above its limit.
	KindMemoryExhaustion
	// KindShaderCompileFailure is a shader that would not compile; the
	// material falls back to a simplified variant.
	KindShaderCompileFailure
)

// String returns the wire/log name for the kind.
func (k Kind) String() string {
	switch k {
	case KindContextLost:
		return "context_lost"
	case KindChunkLoadFailure:
		return "chunk_load_failure"
	case KindMemoryExhaustion:
		return "memory_exhaustion"
	case KindShaderCompileFailure:
		return "shader_compile_failure"
	default:
		return "unknown"
	}
}

// Sentinel errors for faults reported as plain errors. Classify maps them
// back to kinds.
var (
	ErrContextLost   = errors.New("rendering context lost")
	ErrShaderCompile = errors.New("shader compile failed")
	ErrMemoryLimit   = errors.New("memory limit exceeded")
)

// ChunkLoadError marks a chunk download failure and names the chunk so the
// recovery action can target it.
type ChunkLoadError struct {
	Chunk scenemap.RoomID
	Err   error
}

func (e *ChunkLoadError) Error() string {
	return fmt.Sprintf("chunk %s load failed: %v", e.Chunk, e.Err)
}

func (e *ChunkLoadError) Unwrap() error { return e.Err }

// Fault is one fault occurrence. It is consumed immediately by the decision
// function; the caller keeps its own attempt counter across occurrences.
type Fault struct {
	Kind  Kind
	Chunk scenemap.RoomID // set for chunk load failures
	Used  int64           // set for memory exhaustion
	Limit int64           // set for memory exhaustion
	Err   error
}

// Classify builds a Fault from an arbitrary error.
func Classify(err error) Fault {
	var chunkErr *ChunkLoadError
	switch {
	case errors.Is(err, ErrContextLost):
		return Fault{Kind: KindContextLost, Err: err}
	case errors.Is(err, ErrShaderCompile):
		return Fault{Kind: KindShaderCompileFailure, Err: err}
	case errors.Is(err, ErrMemoryLimit):
		return Fault{Kind: KindMemoryExhaustion, Err: err}
	case errors.As(err, &chunkErr):
		return Fault{Kind: KindChunkLoadFailure, Chunk: chunkErr.Chunk, Err: err}
	default:
		return Fault{Kind: KindUnknown, Err: err}
	}
}

// Action is what the caller should do next. The engine never performs the
// action itself.
type Action int

const (
	ActionNone Action = iota
	ActionRetry
	ActionDowngrade
	ActionFallback
	ActionReload
)

// String returns the wire/log name for the action.
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDowngrade:
		return "downgrade"
	case ActionFallback:
		return "fallback"
	case ActionReload:
		return "reload"
	default:
		return "none"
	}
}

// Strategy is the engine's recovery decision. Success is false once the
// fault has exhausted its bounded recovery and converges on the reload or
// fallback outcome.
type Strategy struct {
	Success bool
	Action  Action
	Message string
}

// Recorder receives fault telemetry. Satisfied by telemetry.Recorder.
type Recorder interface {
	Record(eventType string, payload map[string]interface{})
}

// Engine maps faults to bounded recovery strategies. Pure decisions: the
// caller executes the returned action and re-invokes with its own attempt
// counter on repeat failure.
type Engine struct {
	recorder Recorder
}

// NewEngine builds a fault recovery engine logging to recorder.
func NewEngine(recorder Recorder) *Engine {
	return &Engine{recorder: recorder}
}

// Retry bounds per kind.
const (
	maxChunkLoadAttempts = 3
	maxMemoryDowngrades  = 2
	maxUnknownAttempts   = 3
)

// RecoveryStrategy returns the recovery decision for a fault given how many
// attempts the caller has already made. Every fault is recorded before the
// decision is returned.
func (e *Engine) RecoveryStrategy(f Fault, attempts int) Strategy {
	strategy := decide(f, attempts)

	if e.recorder != nil {
		payload := map[string]interface{}{
			"kind":     f.Kind.String(),
			"attempts": attempts,
			"action":   strategy.Action.String(),
			"success":  strategy.Success,
		}
		if f.Chunk != "" {
			payload["chunk"] = string(f.Chunk)
		}
		if f.Kind == KindMemoryExhaustion {
			payload["used_bytes"] = f.Used
			payload["limit_bytes"] = f.Limit
		}
		if f.Err != nil {
			payload["error"] = f.Err.Error()
		}
		e.recorder.Record("fault_recovery", payload)
	}
	return strategy
}

func decide(f Fault, attempts int) Strategy {
	switch f.Kind {
	case KindContextLost:
		return Strategy{
			Success: false,
			Action:  ActionReload,
			Message: "Rendering context lost. A reload is required.",
		}

	case KindChunkLoadFailure:
		if attempts < maxChunkLoadAttempts {
			return Strategy{
				Success: true,
				Action:  ActionRetry,
				Message: fmt.Sprintf("Retrying chunk download (attempt %d of %d).", attempts+1, maxChunkLoadAttempts),
			}
		}
		return Strategy{
			Success: false,
			Action:  ActionFallback,
			Message: "Chunk download kept failing. Returning to a known-good area.",
		}

	case KindMemoryExhaustion:
		if attempts < maxMemoryDowngrades {
			return Strategy{
				Success: true,
				Action:  ActionDowngrade,
				Message: "Memory pressure detected. Lowering quality tier.",
			}
		}
		return Strategy{
			Success: false,
			Action:  ActionReload,
			Message: "Memory pressure persisted after downgrades. A reload is recommended.",
		}

	case KindShaderCompileFailure:
		return Strategy{
			Success: true,
			Action:  ActionFallback,
			Message: "Shader failed to compile. Using simplified material.",
		}

	default:
		if attempts < maxUnknownAttempts {
			return Strategy{
				Success: true,
				Action:  ActionRetry,
				Message: fmt.Sprintf("Retrying after unexpected error (attempt %d of %d).", attempts+1, maxUnknownAttempts),
			}
		}
		return Strategy{
			Success: false,
			Action:  ActionReload,
			Message: "Unexpected error persisted. A reload is recommended.",
		}
	}
}

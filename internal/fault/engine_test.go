package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

type captureRecorder struct {
	events []string
}

func (r *captureRecorder) Record(eventType string, payload map[string]interface{}) {
	r.events = append(r.events, fmt.Sprintf("%s:%v", eventType, payload["kind"]))
}

func TestRecoveryTable(t *testing.T) {
	engine := NewEngine(nil)

	cases := []struct {
		name     string
		fault    Fault
		attempts int
		action   Action
		success  bool
	}{
		{"context lost first", Fault{Kind: KindContextLost}, 0, ActionReload, false},
		{"context lost repeated", Fault{Kind: KindContextLost}, 5, ActionReload, false},
		{"chunk load under bound", Fault{Kind: KindChunkLoadFailure}, 0, ActionRetry, true},
		{"chunk load at last retry", Fault{Kind: KindChunkLoadFailure}, 2, ActionRetry, true},
		{"chunk load exhausted", Fault{Kind: KindChunkLoadFailure}, 3, ActionFallback, false},
		{"memory first", Fault{Kind: KindMemoryExhaustion}, 0, ActionDowngrade, true},
		{"memory second", Fault{Kind: KindMemoryExhaustion}, 1, ActionDowngrade, true},
		{"memory exhausted", Fault{Kind: KindMemoryExhaustion}, 2, ActionReload, false},
		{"shader always falls back", Fault{Kind: KindShaderCompileFailure}, 0, ActionFallback, true},
		{"shader repeated", Fault{Kind: KindShaderCompileFailure}, 9, ActionFallback, true},
		{"unknown retries", Fault{Kind: KindUnknown}, 1, ActionRetry, true},
		{"unknown exhausted", Fault{Kind: KindUnknown}, 3, ActionReload, false},
	}

	for _, tc := range cases {
		strategy := engine.RecoveryStrategy(tc.fault, tc.attempts)
		if strategy.Action != tc.action {
			t.Fatalf("%s: expected action %s, got %s", tc.name, tc.action, strategy.Action)
		}
		if strategy.Success != tc.success {
			t.Fatalf("%s: expected success=%v, got %v", tc.name, tc.success, strategy.Success)
		}
		if strategy.Message == "" {
			t.Fatalf("%s: expected a user-facing message", tc.name)
		}
	}
}

func TestEveryFaultIsRecorded(t *testing.T) {
	recorder := &captureRecorder{}
	engine := NewEngine(recorder)

	engine.RecoveryStrategy(Fault{Kind: KindContextLost}, 0)
	engine.RecoveryStrategy(Fault{Kind: KindChunkLoadFailure, Chunk: scenemap.RoomGallery}, 1)
	engine.RecoveryStrategy(Fault{Kind: KindShaderCompileFailure}, 0)

	if len(recorder.events) != 3 {
		t.Fatalf("expected 3 recorded faults, got %d: %v", len(recorder.events), recorder.events)
	}
}

func TestClassifyMapsErrorsToKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrContextLost, KindContextLost},
		{fmt.Errorf("renderer: %w", ErrContextLost), KindContextLost},
		{ErrShaderCompile, KindShaderCompileFailure},
		{ErrMemoryLimit, KindMemoryExhaustion},
		{&ChunkLoadError{Chunk: scenemap.RoomLibrary, Err: errors.New("404")}, KindChunkLoadFailure},
		{errors.New("mystery"), KindUnknown},
	}
	for _, tc := range cases {
		f := Classify(tc.err)
		if f.Kind != tc.kind {
			t.Fatalf("Classify(%v): expected %s, got %s", tc.err, tc.kind, f.Kind)
		}
	}

	f := Classify(&ChunkLoadError{Chunk: scenemap.RoomLibrary, Err: errors.New("404")})
	if f.Chunk != scenemap.RoomLibrary {
		t.Fatalf("expected chunk id carried through classification, got %s", f.Chunk)
	}
}

package server

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/algoprep/internal/engine"
	"github.com/michaelbrown/algoprep/internal/storage"
	"github.com/michaelbrown/algoprep/internal/storage/sqlite"
	"github.com/michaelbrown/algoprep/internal/task"
	"github.com/michaelbrown/algoprep/internal/value"
)

// sumExecutor returns a+b for every request; when gate is set it waits for
// the gate or for cancellation first.
type sumExecutor struct {
	gate chan struct{}
}

func (e *sumExecutor) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return engine.Result{Kind: engine.Cancelled}, nil
		}
	}
	sum := req.Args["a"].Int() + req.Args["b"].Int()
	return engine.Result{Kind: engine.OK, Return: json.RawMessage(strconv.FormatInt(sum, 10))}, nil
}

func addDescriptor() *task.Descriptor {
	three := value.IntOf(3)
	return &task.Descriptor{
		Slug:  "add",
		Title: "Add two numbers",
		Signature: task.Signature{
			Name:       "add",
			Args:       []task.Arg{{Name: "a", Type: value.Int}, {Name: "b", Type: value.Int}},
			ReturnType: value.Int,
		},
		Tests: []task.TestCase{{Args: map[string]value.Value{"a": value.IntOf(1), "b": value.IntOf(2)}, Return: &three}},
	}
}

func testManager(t *testing.T) *storage.Manager {
	t.Helper()
	cache, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	mgr := storage.NewManager(cache, nil, storage.Options{Logger: zerolog.Nop()})
	t.Cleanup(mgr.Wait)
	return mgr
}

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := NewSessionManager(testManager(t), &sumExecutor{}, nil, zerolog.Nop())
	defer sm.CloseAll()

	s1, err := sm.GetOrCreate(context.Background(), addDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	if s1 == nil {
		t.Fatal("expected non-nil session")
	}

	// Second call should return same instance
	s2, err := sm.GetOrCreate(context.Background(), addDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("expected same session instance on second call")
	}
	if sm.Len() != 1 {
		t.Errorf("Len = %d, want 1", sm.Len())
	}
}

func TestSessionManager_Remove(t *testing.T) {
	sm := NewSessionManager(testManager(t), &sumExecutor{}, nil, zerolog.Nop())

	if _, err := sm.GetOrCreate(context.Background(), addDescriptor()); err != nil {
		t.Fatal(err)
	}
	if _, ok := sm.Get("add"); !ok {
		t.Fatal("expected session to be active")
	}

	sm.Remove("add")

	if _, ok := sm.Get("add"); ok {
		t.Error("expected session to be removed")
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager(testManager(t), &sumExecutor{}, nil, zerolog.Nop())

	desc := addDescriptor()
	other := addDescriptor()
	other.Slug = "add-again"
	for _, d := range []*task.Descriptor{desc, other} {
		if _, err := sm.GetOrCreate(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}

	sm.CloseAll()

	if sm.Len() != 0 {
		t.Errorf("expected no sessions after CloseAll, got %d", sm.Len())
	}
}

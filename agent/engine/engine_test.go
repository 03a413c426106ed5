package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

var testNow = time.Date(2024, 11, 26, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// flakyStore fails the first failSaves Save calls, then delegates.
type flakyStore struct {
	*statex.MemoryStore
	failSaves int
	saveCalls int
}

func (f *flakyStore) Save(ctx context.Context, st *statex.SessionState) error {
	f.saveCalls++
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Save(ctx, st)
}

// testRegistry exposes one tool per engine path: a plain tool, a gated one,
// a terminal one, and one whose writes always fail.
func testRegistry() *toolx.Registry {
	r := toolx.NewRegistry(contractx.FlowOrder)
	r.MustRegister(&toolx.Tool{
		Info:     &schema.ToolInfo{Name: "greet", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{})},
		MinStage: statex.StageStart,
		Handler: func(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
			return &contractx.ToolReply{Speech: "Hello there.", Result: map[string]any{"ok": true}}, nil
		},
	})
	r.MustRegister(&toolx.Tool{
		Info:       &schema.ToolInfo{Name: "locked", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{})},
		MinStage:   statex.StageVerification,
		GuardReply: "Not at this point in the call.",
		Handler: func(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
			return &contractx.ToolReply{Speech: "unlocked"}, nil
		},
	})
	r.MustRegister(&toolx.Tool{
		Info:     &schema.ToolInfo{Name: "finish", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{})},
		MinStage: statex.StageStart,
		Terminal: true,
		Handler: func(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
			speech := "All wrapped up."
			if err := st.Close(statex.StageClosed, "done", speech, testNow); err != nil {
				return nil, err
			}
			return &contractx.ToolReply{Speech: speech}, nil
		},
	})
	r.MustRegister(&toolx.Tool{
		Info:     &schema.ToolInfo{Name: "flaky_write", ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{})},
		MinStage: statex.StageStart,
		Handler: func(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
			return nil, fmt.Errorf("%w: order file: disk full", contractx.ErrPersistence)
		},
	})
	return r
}

func newTestEngine(t *testing.T, store statex.Store) *Engine {
	t.Helper()
	e, err := New(store, testRegistry(), WithClock(fixedClock), WithSaveRetryDelay(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestHandleCreatesAndSavesSession(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	e := newTestEngine(t, store)

	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "greet"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Speech != "Hello there." {
		t.Fatalf("speech = %q", resp.Speech)
	}
	if resp.Closed {
		t.Fatalf("session reported closed")
	}
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Flow != contractx.FlowOrder || !st.UpdatedAt.Equal(testNow) {
		t.Fatalf("saved session = flow:%s updated:%s", st.Flow, st.UpdatedAt)
	}
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, statex.NewMemoryStore())

	if _, err := e.Handle(context.Background(), Request{SessionID: "  ", Tool: "greet"}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: " "}); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected ErrInvalidTool, got %v", err)
	}
}

func TestHandleRejectsFlowMismatch(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	other := statex.NewSessionState("s1", contractx.FlowLead, testNow)
	if err := store.Save(context.Background(), other); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	e := newTestEngine(t, store)
	_, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "greet"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestHandleUnknownToolPropagates(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, statex.NewMemoryStore())
	_, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "no_such_tool"})
	if !errors.Is(err, contractx.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestHandleGuardedToolSpeaksGuardLine(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	e := newTestEngine(t, store)

	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "locked"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Speech != "Not at this point in the call." {
		t.Fatalf("speech = %q", resp.Speech)
	}
	// The rejected call still refreshes the session's idle clock.
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}
	if resp.Stage != statex.StageStart {
		t.Fatalf("stage = %s, want unchanged start", resp.Stage)
	}
}

func TestHandleRecordWriteFailureApologizes(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	e := newTestEngine(t, store)

	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "flaky_write"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Speech != persistenceApology {
		t.Fatalf("speech = %q", resp.Speech)
	}
	if resp.Closed {
		t.Fatalf("session must stay open after a failed record write")
	}
}

func TestHandleSaveRetriesOnce(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: statex.NewMemoryStore(), failSaves: 1}
	e := newTestEngine(t, store)

	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "greet"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Speech != "Hello there." {
		t.Fatalf("speech = %q", resp.Speech)
	}
	if store.saveCalls != 2 {
		t.Fatalf("save calls = %d, want 2", store.saveCalls)
	}
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}
}

func TestHandleSaveGivesUpWithApology(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: statex.NewMemoryStore(), failSaves: 2}
	e := newTestEngine(t, store)

	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "finish"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Speech != persistenceApology {
		t.Fatalf("speech = %q", resp.Speech)
	}
	if resp.Closed {
		t.Fatalf("close must not be reported when the save never landed")
	}
	if store.saveCalls != 2 {
		t.Fatalf("save calls = %d, want 2", store.saveCalls)
	}
	if store.Len() != 0 {
		t.Fatalf("stored sessions = %d, want 0", store.Len())
	}
}

func TestHandleTerminalReplay(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	e := newTestEngine(t, store)

	first, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "finish"})
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if !first.Closed {
		t.Fatalf("first finish did not close the session")
	}

	second, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "finish"})
	if err != nil {
		t.Fatalf("replayed finish: %v", err)
	}
	if second.Speech != first.Speech {
		t.Fatalf("replay speech = %q, want %q", second.Speech, first.Speech)
	}
	if !second.Closed {
		t.Fatalf("replay must report the session closed")
	}

	// Any other tool on a closed session answers politely without running.
	resp, err := e.Handle(context.Background(), Request{SessionID: "s1", Tool: "greet"})
	if err != nil {
		t.Fatalf("greet on closed session: %v", err)
	}
	if resp.Speech == "Hello there." {
		t.Fatalf("handler ran on a closed session")
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	stale := statex.NewSessionState("old", contractx.FlowOrder, testNow.Add(-3*time.Hour))
	fresh := statex.NewSessionState("new", contractx.FlowOrder, testNow.Add(-10*time.Minute))
	for _, st := range []*statex.SessionState{stale, fresh} {
		if err := store.Save(context.Background(), st); err != nil {
			t.Fatalf("seed save: %v", err)
		}
	}

	e := newTestEngine(t, store)
	n, err := e.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", store.Len())
	}
	if _, err := store.Load(context.Background(), "new"); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}
}

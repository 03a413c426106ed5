package fraud

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxkit/callflow/agent/casedb"
	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

var testNow = time.Date(2024, 11, 26, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fakeCases struct {
	cases map[string]*casedb.FraudCase
}

func (f *fakeCases) FindPendingByName(ctx context.Context, name string) (*casedb.FraudCase, error) {
	fc, ok := f.cases[strings.ToLower(name)]
	if !ok || fc.CaseStatus != casedb.StatusPendingReview {
		return nil, casedb.ErrCaseNotFound
	}
	out := *fc
	return &out, nil
}

type fakeResolver struct {
	calls       int
	lastID      int64
	status      string
	note        string
	cardBlocked bool
	err         error
}

func (f *fakeResolver) Resolve(ctx context.Context, caseID int64, status, note string, cardBlocked bool) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.lastID = caseID
	f.status = status
	f.note = note
	f.cardBlocked = cardBlocked
	return nil
}

func demoCases() *fakeCases {
	return &fakeCases{cases: map[string]*casedb.FraudCase{
		"john": {
			ID: 1, UserName: "John", CardEnding: "4242", CaseStatus: casedb.StatusPendingReview,
			TransactionName: "ABC Industry", TransactionTime: "2024-11-26 14:30:00",
			TransactionSource: "alibaba.com", TransactionAmount: 299.99, TransactionLocation: "Shanghai, China",
			SecurityQuestion: "What is your mother's maiden name?", SecurityAnswer: "Smith",
		},
		"sarah": {
			ID: 2, UserName: "Sarah", CardEnding: "8765", CaseStatus: casedb.StatusPendingReview,
			TransactionName: "Luxury Goods Store", TransactionTime: "2024-11-26 09:15:00",
			TransactionSource: "luxurystore.com", TransactionAmount: 1299.99, TransactionLocation: "Paris, France",
			SecurityQuestion: "What was your first pet's name?", SecurityAnswer: "Fluffy",
		},
		"mike": {
			ID: 3, UserName: "Mike", CardEnding: "1234", CaseStatus: casedb.StatusPendingReview,
			TransactionName: "Gaming Platform", TransactionTime: "2024-11-25 23:45:00",
			TransactionSource: "gaming-platform.com", TransactionAmount: 99.99, TransactionLocation: "Los Angeles, CA",
			SecurityQuestion: "What city were you born in?", SecurityAnswer: "Chicago",
		},
	}}
}

func newTestFlow(t *testing.T) (*toolx.Registry, *fakeResolver, *statex.SessionState) {
	t.Helper()
	resolver := &fakeResolver{}
	registry := NewRegistry(demoCases(), resolver, fixedClock)
	st := statex.NewSessionState("s1", contractx.FlowFraud, testNow)
	return registry, resolver, st
}

func TestHappyPathConfirmedSafe(t *testing.T) {
	t.Parallel()

	registry, resolver, st := newTestFlow(t)
	ctx := context.Background()

	reply, err := registry.Execute(ctx, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "John"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(reply.Speech, "Found a fraud alert for John") {
		t.Fatalf("load reply = %q", reply.Speech)
	}
	if st.Stage != statex.StageVerification || st.Identifier != "john" || st.Case == nil {
		t.Fatalf("session after load: stage=%s ident=%q", st.Stage, st.Identifier)
	}

	reply, err = registry.Execute(ctx, st, ToolSecurityQuestion, nil)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if !strings.Contains(reply.Speech, "What is your mother's maiden name?") {
		t.Fatalf("question reply = %q", reply.Speech)
	}

	// Case-insensitive, whitespace-tolerant answer.
	reply, err = registry.Execute(ctx, st, ToolVerifyCustomer, contractx.ToolArgs{"answer": " smith "})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if reply.Speech != verifiedReply || st.Stage != statex.StageDisclosure {
		t.Fatalf("verify reply=%q stage=%s", reply.Speech, st.Stage)
	}

	reply, err = registry.Execute(ctx, st, ToolTransactionDetails, nil)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	for _, part := range []string{"$299.99", "ABC Industry", "alibaba.com", "Shanghai, China"} {
		if !strings.Contains(reply.Speech, part) {
			t.Fatalf("details reply %q missing %q", reply.Speech, part)
		}
	}
	if st.Stage != statex.StageResolution {
		t.Fatalf("stage after details = %s", st.Stage)
	}

	reply, err = registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": true})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(reply.Speech, "transaction is legitimate") {
		t.Fatalf("confirm reply = %q", reply.Speech)
	}
	if st.Stage != statex.StageClosed || st.Outcome != casedb.StatusConfirmedSafe {
		t.Fatalf("session not closed safe: stage=%s outcome=%s", st.Stage, st.Outcome)
	}
	if resolver.calls != 1 || resolver.status != casedb.StatusConfirmedSafe || resolver.lastID != 1 {
		t.Fatalf("resolver = %+v", resolver)
	}
	if resolver.note != noteConfirmedSafe {
		t.Fatalf("note = %q", resolver.note)
	}
	if resolver.cardBlocked {
		t.Fatal("safe confirmation must not block the card")
	}
}

func TestConfirmedFraudBlocksCard(t *testing.T) {
	t.Parallel()

	registry, resolver, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "Sarah"})
	mustExecute(t, registry, st, ToolVerifyCustomer, contractx.ToolArgs{"answer": "Fluffy"})
	mustExecute(t, registry, st, ToolTransactionDetails, nil)

	reply, err := registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": false})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(reply.Speech, "blocked your card ending in 8765") {
		t.Fatalf("confirm reply = %q", reply.Speech)
	}
	if st.Outcome != casedb.StatusConfirmedFraud {
		t.Fatalf("outcome = %s", st.Outcome)
	}
	if resolver.status != casedb.StatusConfirmedFraud || resolver.note != noteConfirmedFraud {
		t.Fatalf("resolver = %+v", resolver)
	}
	if !resolver.cardBlocked {
		t.Fatal("disputed transaction must block the card")
	}
}

func TestWrongAnswerFailsClosed(t *testing.T) {
	t.Parallel()

	registry, resolver, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "Mike"})

	reply, err := registry.Execute(ctx, st, ToolVerifyCustomer, contractx.ToolArgs{"answer": "New York"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if reply.Speech != verificationFailedReply {
		t.Fatalf("reply = %q", reply.Speech)
	}
	if st.Stage != statex.StageVerificationFailed || st.Outcome != OutcomeVerificationFailed {
		t.Fatalf("stage=%s outcome=%s", st.Stage, st.Outcome)
	}

	// No disclosure and no row update after a failed verification.
	if _, err := registry.Execute(ctx, st, ToolTransactionDetails, nil); !errors.Is(err, contractx.ErrPreconditionNotMet) {
		t.Fatalf("details after failure error = %v", err)
	}
	if resolver.calls != 0 {
		t.Fatalf("case row touched after failed verification")
	}
}

func TestUnknownCustomerLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	reply, err := registry.Execute(context.Background(), st, ToolLoadCase, contractx.ToolArgs{"customer_name": "Zoe"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(reply.Speech, "I don't see any pending fraud alerts for Zoe") {
		t.Fatalf("reply = %q", reply.Speech)
	}
	if st.Stage != statex.StageIdentityLookup || st.Identifier != "" || st.Case != nil {
		t.Fatalf("session changed on miss: stage=%s ident=%q", st.Stage, st.Identifier)
	}
}

func TestDetailsBeforeVerificationRefused(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "John"})

	reply, err := registry.Execute(ctx, st, ToolTransactionDetails, nil)
	if !errors.Is(err, contractx.ErrPreconditionNotMet) {
		t.Fatalf("error = %v, want ErrPreconditionNotMet", err)
	}
	if reply == nil || reply.Speech != "Customer identity must be verified before sharing transaction details." {
		t.Fatalf("guard reply = %+v", reply)
	}
	if st.Stage != statex.StageVerification {
		t.Fatalf("stage moved on refused call: %s", st.Stage)
	}
}

func TestDuplicateLookup(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "John"})

	// Same name again: same answer, nothing moves.
	reply, err := registry.Execute(ctx, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "john"})
	if err != nil {
		t.Fatalf("repeat load: %v", err)
	}
	if !strings.Contains(reply.Speech, "Found a fraud alert for john") {
		t.Fatalf("repeat reply = %q", reply.Speech)
	}
	if st.Stage != statex.StageVerification {
		t.Fatalf("stage = %s", st.Stage)
	}

	// A different name cannot rebind the call.
	reply, err = registry.Execute(ctx, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "Sarah"})
	if err != nil {
		t.Fatalf("rebind load: %v", err)
	}
	if !strings.Contains(reply.Speech, "already reviewing a case for John") {
		t.Fatalf("rebind reply = %q", reply.Speech)
	}
	if st.Identifier != "john" {
		t.Fatalf("identifier rebound to %q", st.Identifier)
	}
}

func TestConfirmReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	registry, resolver, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "John"})
	mustExecute(t, registry, st, ToolVerifyCustomer, contractx.ToolArgs{"answer": "Smith"})
	first, err := registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": true})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	second, err := registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": true})
	if err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	if second.Speech != first.Speech {
		t.Fatalf("replay speech = %q, want %q", second.Speech, first.Speech)
	}
	if resolver.calls != 1 {
		t.Fatalf("resolver called %d times, want 1", resolver.calls)
	}
}

func TestPersistenceFailureKeepsSessionOpen(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{err: errors.New("disk full")}
	registry := NewRegistry(demoCases(), resolver, fixedClock)
	st := statex.NewSessionState("s1", contractx.FlowFraud, testNow)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolLoadCase, contractx.ToolArgs{"customer_name": "John"})
	mustExecute(t, registry, st, ToolVerifyCustomer, contractx.ToolArgs{"answer": "Smith"})

	if _, err := registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": true}); err == nil {
		t.Fatalf("expected error from failing resolver")
	}
	if st.Terminal() {
		t.Fatalf("session closed despite persistence failure")
	}

	// The customer can retry once the store recovers.
	resolver.err = nil
	if _, err := registry.Execute(ctx, st, ToolConfirmTransaction, contractx.ToolArgs{"made_purchase": true}); err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if !st.Terminal() {
		t.Fatalf("session still open after successful retry")
	}
}

func mustExecute(t *testing.T, r *toolx.Registry, st *statex.SessionState, name string, args contractx.ToolArgs) *contractx.ToolReply {
	t.Helper()
	reply, err := r.Execute(context.Background(), st, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return reply
}

package order

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	contractx "github.com/voxkit/callflow/agent/contract"
	"github.com/voxkit/callflow/agent/sink"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

var testNow = time.Date(2024, 11, 26, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fakeOrderWriter struct {
	calls int
	last  *sink.OrderRecord
	err   error
}

func (f *fakeOrderWriter) Write(ctx context.Context, rec *sink.OrderRecord) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.last = rec
	return "orders/order_" + rec.OrderID + ".json", nil
}

func newTestFlow(t *testing.T) (*toolx.Registry, *fakeOrderWriter, *statex.SessionState) {
	t.Helper()
	writer := &fakeOrderWriter{}
	registry := NewRegistry(DefaultCatalog(), writer, fixedClock)
	st := statex.NewSessionState("s1", contractx.FlowOrder, testNow)
	return registry, writer, st
}

func TestMilkAndBreadTotal(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1})
	reply := mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "bread_whole_wheat", "quantity": 2})

	if math.Abs(st.Cart.Total-10.77) > 0.01 {
		t.Fatalf("total = %.4f, want 10.77", st.Cart.Total)
	}
	if !strings.Contains(reply.Speech, "$10.77") {
		t.Fatalf("speech = %q", reply.Speech)
	}
	if st.Stage != statex.StageDisclosure {
		t.Fatalf("stage = %s", st.Stage)
	}
}

func TestAddUnknownItemLeavesCartAlone(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	reply := mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "unicorn_steak", "quantity": 1})
	if !strings.Contains(reply.Speech, "couldn't find that item") {
		t.Fatalf("speech = %q", reply.Speech)
	}
	if !st.Cart.Empty() || st.Stage != statex.StageStart {
		t.Fatalf("cart or stage changed: %+v stage=%s", st.Cart, st.Stage)
	}
}

func TestAddZeroQuantityIsNoOp(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	reply := mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 0})
	if !strings.Contains(reply.Speech, "No changes") {
		t.Fatalf("speech = %q", reply.Speech)
	}
	if !st.Cart.Empty() {
		t.Fatalf("cart changed on zero add: %+v", st.Cart)
	}
}

func TestRemoveAndUpdateQuantity(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	// Mutating an absent item is a no-op, not an error.
	reply := mustExecute(t, registry, st, ToolRemoveItem, contractx.ToolArgs{"item_id": "milk_whole"})
	if !strings.Contains(reply.Speech, "isn't in your cart") {
		t.Fatalf("speech = %q", reply.Speech)
	}
	reply = mustExecute(t, registry, st, ToolUpdateQuantity, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 3})
	if !strings.Contains(reply.Speech, "isn't in your cart") {
		t.Fatalf("speech = %q", reply.Speech)
	}

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "eggs_dozen", "quantity": 1})
	reply = mustExecute(t, registry, st, ToolUpdateQuantity, contractx.ToolArgs{"item_id": "eggs_dozen", "quantity": 3})
	if !strings.Contains(reply.Speech, "Updated Dozen Eggs to 3") || math.Abs(st.Cart.Total-14.97) > 0.01 {
		t.Fatalf("speech=%q total=%.2f", reply.Speech, st.Cart.Total)
	}

	// Quantity zero removes the line.
	reply = mustExecute(t, registry, st, ToolUpdateQuantity, contractx.ToolArgs{"item_id": "eggs_dozen", "quantity": 0})
	if !strings.Contains(reply.Speech, "Removed Dozen Eggs") || !st.Cart.Empty() {
		t.Fatalf("speech=%q cart=%+v", reply.Speech, st.Cart)
	}
}

func TestViewCart(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	reply := mustExecute(t, registry, st, ToolViewCart, nil)
	if reply.Speech != emptyCartReply {
		t.Fatalf("empty cart speech = %q", reply.Speech)
	}

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1})
	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "bread_whole_wheat", "quantity": 2})

	reply = mustExecute(t, registry, st, ToolViewCart, nil)
	for _, part := range []string{"1 Whole Milk", "2 Whole Wheat Bread", "$10.77"} {
		if !strings.Contains(reply.Speech, part) {
			t.Fatalf("view speech %q missing %q", reply.Speech, part)
		}
	}
}

func TestRecipeBundle(t *testing.T) {
	t.Parallel()

	registry, _, st := newTestFlow(t)

	// Bundle names match case-insensitively.
	reply := mustExecute(t, registry, st, ToolAddRecipeBundle, contractx.ToolArgs{"recipe": "Spaghetti Dinner"})
	if !strings.Contains(reply.Speech, "spaghetti dinner") {
		t.Fatalf("speech = %q", reply.Speech)
	}
	if len(st.Cart.Items) != 6 {
		t.Fatalf("bundle items = %d, want 6", len(st.Cart.Items))
	}
	if math.Abs(st.Cart.Total-24.34) > 0.01 {
		t.Fatalf("bundle total = %.2f, want 24.34", st.Cart.Total)
	}

	reply = mustExecute(t, registry, st, ToolAddRecipeBundle, contractx.ToolArgs{"recipe": "sunday roast"})
	if !strings.Contains(reply.Speech, "I don't have a bundle called sunday roast") {
		t.Fatalf("unknown bundle speech = %q", reply.Speech)
	}
	if !strings.Contains(reply.Speech, "breakfast basics") {
		t.Fatalf("speech should offer known bundles: %q", reply.Speech)
	}
}

func TestPlaceOrderLifecycle(t *testing.T) {
	t.Parallel()

	registry, writer, st := newTestFlow(t)
	ctx := context.Background()

	// Nothing to order yet.
	reply, err := registry.Execute(ctx, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"})
	if err != nil {
		t.Fatalf("place on empty cart: %v", err)
	}
	if !strings.Contains(reply.Speech, "cart is empty") || writer.calls != 0 {
		t.Fatalf("reply=%q writes=%d", reply.Speech, writer.calls)
	}

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1})
	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "bread_whole_wheat", "quantity": 2})

	// Missing delivery details: ask, don't place.
	reply = mustExecute(t, registry, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana"})
	if !strings.Contains(reply.Speech, "name and delivery address") || writer.calls != 0 {
		t.Fatalf("reply=%q writes=%d", reply.Speech, writer.calls)
	}
	if st.Terminal() {
		t.Fatalf("session closed without placing")
	}

	reply = mustExecute(t, registry, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"})
	if !strings.Contains(reply.Speech, "Your order is placed") || !strings.Contains(reply.Speech, "order number") {
		t.Fatalf("speech = %q", reply.Speech)
	}

	if writer.calls != 1 || writer.last == nil {
		t.Fatalf("writer calls = %d", writer.calls)
	}
	rec := writer.last
	if len(rec.OrderID) != 36 {
		t.Fatalf("order id = %q, want a uuid", rec.OrderID)
	}
	if rec.OrderID != orderIDFor("s1") {
		t.Fatalf("order id = %q, want the session-derived id", rec.OrderID)
	}
	if rec.CustomerName != "Dana" || rec.CustomerAddress != "12 Elm Street" || rec.Status != sink.OrderStatusConfirmed {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Items) != 2 || math.Abs(rec.Total-10.77) > 0.01 {
		t.Fatalf("record items/total = %d/%.2f", len(rec.Items), rec.Total)
	}
	if st.Stage != statex.StageClosed || st.Outcome != OutcomeOrderPlaced || st.Artifact == "" {
		t.Fatalf("session = stage:%s outcome:%s artifact:%q", st.Stage, st.Outcome, st.Artifact)
	}
}

func TestPlaceOrderReplayKeepsOneRecord(t *testing.T) {
	t.Parallel()

	registry, writer, st := newTestFlow(t)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1})
	first := mustExecute(t, registry, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"})

	second, err := registry.Execute(ctx, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"})
	if err != nil {
		t.Fatalf("replayed place: %v", err)
	}
	if second.Speech != first.Speech {
		t.Fatalf("replay speech = %q, want %q", second.Speech, first.Speech)
	}
	if writer.calls != 1 {
		t.Fatalf("writer calls = %d, want 1", writer.calls)
	}
}

func TestPlaceOrderWriteFailureKeepsSessionOpen(t *testing.T) {
	t.Parallel()

	writer := &fakeOrderWriter{err: errors.New("disk full")}
	registry := NewRegistry(DefaultCatalog(), writer, fixedClock)
	st := statex.NewSessionState("s1", contractx.FlowOrder, testNow)
	ctx := context.Background()

	mustExecute(t, registry, st, ToolAddItem, contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1})

	if _, err := registry.Execute(ctx, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"}); err == nil {
		t.Fatalf("expected error from failing writer")
	}
	if st.Terminal() {
		t.Fatalf("session closed despite write failure")
	}

	writer.err = nil
	if _, err := registry.Execute(ctx, st, ToolPlaceOrder, contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"}); err != nil {
		t.Fatalf("retry place: %v", err)
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

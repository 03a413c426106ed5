// Package order implements the grocery ordering call flow: build a cart
// against the static catalog, keep the running total consistent, and hand
// the confirmed order to fulfillment.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	contractx "github.com/voxkit/callflow/agent/contract"
	"github.com/voxkit/callflow/agent/sink"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

const OutcomeOrderPlaced = "order_placed"

// Tool names exposed to the model.
const (
	ToolAddItem         = "add_item"
	ToolAddRecipeBundle = "add_recipe_bundle"
	ToolRemoveItem      = "remove_item"
	ToolUpdateQuantity  = "update_quantity"
	ToolViewCart        = "view_cart"
	ToolPlaceOrder      = "place_order"
)

const emptyCartReply = "Your cart is empty. What would you like to order?"

// OrderWriter persists the confirmed order and returns where it landed.
type OrderWriter interface {
	Write(ctx context.Context, rec *sink.OrderRecord) (string, error)
}

// NewRegistry wires the cart tools against the catalog and the order sink.
// A nil now falls back to the wall clock.
func NewRegistry(catalog *Catalog, writer OrderWriter, now func() time.Time) *toolx.Registry {
	if now == nil {
		now = time.Now
	}
	f := &flow{catalog: catalog, writer: writer, now: now}

	r := toolx.NewRegistry(contractx.FlowOrder)
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolAddItem,
			Desc: "Add an item from the catalog to the cart. Re-adding the same item increases its quantity.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"item_id":  {Type: schema.String, Desc: "Catalog item id", Required: true},
				"quantity": {Type: schema.Integer, Desc: "How many to add", Required: true},
				"notes":    {Type: schema.String, Desc: "Preparation or substitution notes", Required: false},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.addItem,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolAddRecipeBundle,
			Desc: "Add every ingredient of a recipe bundle to the cart in one step.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"recipe": {Type: schema.String, Desc: "Recipe name, e.g. spaghetti dinner", Required: true},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.addRecipeBundle,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolRemoveItem,
			Desc: "Remove an item from the cart entirely.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"item_id": {Type: schema.String, Desc: "Catalog item id", Required: true},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.removeItem,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolUpdateQuantity,
			Desc: "Set the quantity of an item already in the cart. Zero removes it.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"item_id":  {Type: schema.String, Desc: "Catalog item id", Required: true},
				"quantity": {Type: schema.Integer, Desc: "New quantity; zero removes the item", Required: true},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.updateQuantity,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name:        ToolViewCart,
			Desc:        "Read back the cart contents and the running total.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		MinStage: statex.StageStart,
		Handler:  f.viewCart,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolPlaceOrder,
			Desc: "Place the order once the customer confirms. Needs their name and delivery address.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"customer_name":    {Type: schema.String, Desc: "Customer's name", Required: false},
				"customer_address": {Type: schema.String, Desc: "Delivery address", Required: false},
			}),
		},
		MinStage: statex.StageStart,
		Terminal: true,
		Handler:  f.placeOrder,
	})
	return r
}

type flow struct {
	catalog *Catalog
	writer  OrderWriter
	now     func() time.Time
}

func (f *flow) addItem(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	itemID, err := toolx.String(args, "item_id")
	if err != nil {
		return nil, err
	}
	quantity, err := toolx.Int(args, "quantity")
	if err != nil {
		return nil, err
	}

	item, ok := f.catalog.Item(itemID)
	if !ok {
		return f.unknownItemReply(itemID, st), nil
	}
	if quantity <= 0 {
		// Adding nothing is a no-op, not an error.
		return f.cartReply(st, "No changes made to your cart."), nil
	}

	st.Cart.Add(statex.LineItem{
		ItemID:    item.ID,
		Name:      item.Name,
		UnitPrice: item.Price,
		Quantity:  quantity,
		Notes:     toolx.OptionalString(args, "notes"),
	})
	if err := f.markEditing(st); err != nil {
		return nil, err
	}

	return f.cartReply(st, fmt.Sprintf("Added %d %s to your cart.", quantity, item.Name)), nil
}

func (f *flow) addRecipeBundle(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	recipe, err := toolx.String(args, "recipe")
	if err != nil {
		return nil, err
	}

	lines, ok := f.catalog.Bundle(recipe)
	if !ok {
		return &contractx.ToolReply{
			Speech: fmt.Sprintf("I don't have a bundle called %s. I can put together: %s.", recipe, strings.Join(f.catalog.BundleNames(), ", ")),
			Result: map[string]any{"error": "unknown_bundle", "available": f.catalog.BundleNames()},
		}, nil
	}

	for _, line := range lines {
		item, ok := f.catalog.Item(line.ItemID)
		if !ok {
			continue // catalog and bundles ship together; a miss here is a data bug
		}
		st.Cart.Add(statex.LineItem{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  line.Quantity,
		})
	}
	if err := f.markEditing(st); err != nil {
		return nil, err
	}

	return f.cartReply(st, fmt.Sprintf("Added everything for %s, %d items.", normalizeBundleName(recipe), len(lines))), nil
}

func (f *flow) removeItem(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	itemID, err := toolx.String(args, "item_id")
	if err != nil {
		return nil, err
	}

	item, ok := st.Cart.Find(itemID)
	if !ok {
		// Removing something that isn't there is a no-op.
		return f.cartReply(st, "That item isn't in your cart."), nil
	}
	st.Cart.Remove(itemID)
	return f.cartReply(st, fmt.Sprintf("Removed %s from your cart.", item.Name)), nil
}

func (f *flow) updateQuantity(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	itemID, err := toolx.String(args, "item_id")
	if err != nil {
		return nil, err
	}
	quantity, err := toolx.Int(args, "quantity")
	if err != nil {
		return nil, err
	}

	item, ok := st.Cart.Find(itemID)
	if !ok {
		return f.cartReply(st, "That item isn't in your cart."), nil
	}
	if quantity <= 0 {
		st.Cart.Remove(itemID)
		return f.cartReply(st, fmt.Sprintf("Removed %s from your cart.", item.Name)), nil
	}
	st.Cart.SetQuantity(itemID, quantity)
	return f.cartReply(st, fmt.Sprintf("Updated %s to %d.", item.Name, quantity)), nil
}

func (f *flow) viewCart(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	if st.Cart.Empty() {
		return &contractx.ToolReply{
			Speech: emptyCartReply,
			Result: map[string]any{"items": []statex.LineItem{}, "total": 0.0},
		}, nil
	}

	parts := make([]string, 0, len(st.Cart.Items))
	for _, it := range st.Cart.Items {
		parts = append(parts, fmt.Sprintf("%d %s ($%.2f)", it.Quantity, it.Name, it.Subtotal()))
	}
	return &contractx.ToolReply{
		Speech: fmt.Sprintf("You have %s. Your total is $%.2f.", strings.Join(parts, ", "), st.Cart.Total),
		Result: map[string]any{"items": st.Cart.Items, "total": st.Cart.Total},
	}, nil
}

func (f *flow) placeOrder(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	if st.Cart.Empty() {
		return &contractx.ToolReply{
			Speech: "Your cart is empty, so there's nothing to order yet. What can I get you?",
			Result: map[string]any{"placed": false},
		}, nil
	}

	name := toolx.OptionalString(args, "customer_name")
	address := toolx.OptionalString(args, "customer_address")
	if name == "" || address == "" {
		return &contractx.ToolReply{
			Speech: "Before I place the order, could I get your name and delivery address?",
			Result: map[string]any{"placed": false, "need": []string{"customer_name", "customer_address"}},
		}, nil
	}

	rec := &sink.OrderRecord{
		OrderID:         orderIDFor(st.SessionID),
		Timestamp:       f.now().UTC(),
		CustomerName:    name,
		CustomerAddress: address,
		Items:           st.Cart.Items,
		Total:           st.Cart.Total,
		Status:          sink.OrderStatusConfirmed,
	}
	path, err := f.writer.Write(ctx, rec)
	if err != nil {
		return nil, err
	}

	speech := fmt.Sprintf("Perfect! Your order is placed: %d items totaling $%.2f, delivering to %s. Your order number is %s.",
		len(rec.Items), rec.Total, address, shortOrderCode(rec.OrderID))

	st.Artifact = path
	if err := st.Close(statex.StageClosed, OutcomeOrderPlaced, speech, f.now()); err != nil {
		return nil, err
	}
	return &contractx.ToolReply{
		Speech: speech,
		Result: map[string]any{"placed": true, "order_id": rec.OrderID, "path": path, "total": rec.Total},
	}, nil
}

// markEditing moves a fresh session into the collection stage on its first
// cart mutation.
func (f *flow) markEditing(st *statex.SessionState) error {
	if st.Stage == statex.StageStart {
		return st.AdvanceTo(statex.StageDisclosure, f.now())
	}
	return nil
}

func (f *flow) unknownItemReply(itemID string, st *statex.SessionState) *contractx.ToolReply {
	return &contractx.ToolReply{
		Speech: "I couldn't find that item in our catalog.",
		Result: map[string]any{"error": "unknown_item", "item_id": itemID, "total": st.Cart.Total},
	}
}

func (f *flow) cartReply(st *statex.SessionState, lede string) *contractx.ToolReply {
	speech := lede
	if st.Cart.Empty() {
		speech = fmt.Sprintf("%s Your cart is now empty.", lede)
	} else {
		speech = fmt.Sprintf("%s Your total is $%.2f.", lede, st.Cart.Total)
	}
	return &contractx.ToolReply{
		Speech: speech,
		Result: map[string]any{"items": st.Cart.Items, "total": st.Cart.Total},
	}
}

// orderIDFor derives the order id from the session, so a retried place_order
// lands on the same file instead of minting a duplicate.
func orderIDFor(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("order:"+sessionID)).String()
}

// shortOrderCode is the speakable slice of the order id.
func shortOrderCode(id string) string {
	if len(id) <= 8 {
		return strings.ToUpper(id)
	}
	return strings.ToUpper(id[:8])
}

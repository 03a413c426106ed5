package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	contractx "github.com/voxkit/callflow/agent/contract"
)

var (
	ErrInvalidSession  = errors.New("invalid session state")
	ErrStageRegression = errors.New("stage transition would move backwards")
	ErrSessionClosed   = errors.New("session already reached a terminal stage")
)

// SessionState is the single persistent record of one conversation. Exactly
// one of Case, Lead or Cart is populated, according to Flow.
type SessionState struct {
	SessionID  string             `json:"session_id"`
	Flow       contractx.FlowType `json:"flow"`
	Stage      Stage              `json:"stage"`
	Identifier string             `json:"identifier,omitempty"` // normalized customer identifier (fraud flow)

	Case *CaseFile    `json:"case,omitempty"`
	Lead *LeadProfile `json:"lead,omitempty"`
	Cart *Cart        `json:"cart,omitempty"`

	// Outcome and FinalReply are set exactly once when the session reaches a
	// terminal stage. FinalReply is replayed verbatim if the closing tool is
	// invoked again, so duplicate tool calls stay idempotent.
	Outcome    string `json:"outcome,omitempty"`
	FinalReply string `json:"final_reply,omitempty"`
	Artifact   string `json:"artifact,omitempty"` // path or row reference of the persisted terminal record

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState seeds a fresh record for the given flow. Fraud
// conversations open waiting for an identity to look up; the other flows
// open on their greeting stage with an empty payload.
func NewSessionState(sessionID string, flow contractx.FlowType, now time.Time) *SessionState {
	st := &SessionState{
		SessionID: sessionID,
		Flow:      flow,
		Stage:     StageStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch flow {
	case contractx.FlowFraud:
		st.Stage = StageIdentityLookup
	case contractx.FlowLead:
		st.Lead = &LeadProfile{}
	case contractx.FlowOrder:
		st.Cart = NewCart()
	}
	return st
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now
}

func (s *SessionState) Terminal() bool {
	return s.Stage.Terminal()
}

// AdvanceTo moves the session forward to stage. Transitions that would move
// backwards, or out of a terminal stage, are rejected. Advancing to the
// current stage is a no-op.
func (s *SessionState) AdvanceTo(stage Stage, now time.Time) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidSession, stage)
	}
	if s.Stage == stage {
		return nil
	}
	if s.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.Stage)
	}
	if stage.Rank() < s.Stage.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, s.Stage, stage)
	}
	s.Stage = stage
	s.UpdatedAt = now
	return nil
}

// Close moves the session to a terminal stage and freezes the outcome and
// the reply to replay on duplicate closing calls.
func (s *SessionState) Close(stage Stage, outcome, finalReply string, now time.Time) error {
	if !stage.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidSession, stage)
	}
	if err := s.AdvanceTo(stage, now); err != nil {
		return err
	}
	s.Outcome = outcome
	s.FinalReply = finalReply
	return nil
}

// Validate enforces the structural invariants before a save. The cart total
// check catches callers that mutate line items without recomputing.
func (s *SessionState) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidSession)
	}
	if s.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}
	if !s.Flow.Valid() {
		return fmt.Errorf("%w: unknown flow %q", ErrInvalidSession, s.Flow)
	}
	if !s.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidSession, s.Stage)
	}
	if s.Stage.Terminal() && s.Outcome == "" {
		return fmt.Errorf("%w: terminal stage %s without outcome", ErrInvalidSession, s.Stage)
	}
	if s.Cart != nil {
		if want := s.Cart.computeTotal(); math.Abs(want-s.Cart.Total) > 0.005 {
			return fmt.Errorf("%w: cart total %.2f does not match items (%.2f)", ErrInvalidSession, s.Cart.Total, want)
		}
	}
	return nil
}

// Clone returns a deep copy via JSON round trip. Stores hand out clones so
// callers never share a mutable record.
func (s *SessionState) Clone() (*SessionState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out SessionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NormalizeIdentifier lowercases and trims a customer-supplied name so the
// same person spoken two ways maps to one identifier.
func NormalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AnswersMatch compares a security answer against the expected one,
// case-insensitively and ignoring surrounding whitespace. Nothing fuzzier:
// "New York" never matches "Chicago".
func AnswersMatch(expected, provided string) bool {
	e := strings.ToLower(strings.TrimSpace(expected))
	p := strings.ToLower(strings.TrimSpace(provided))
	return e != "" && e == p
}

/* ----- Fraud payload ----- */

// CaseFile is the session's snapshot of the fraud case bound by the identity
// lookup. Keeping the copy on the session means disclosure and resolution
// never re-query the case table mid call.
type CaseFile struct {
	CaseID           int64       `json:"case_id"`
	CustomerName     string      `json:"customer_name"`
	CardEnding       string      `json:"card_ending"`
	SecurityQuestion string      `json:"security_question"`
	SecurityAnswer   string      `json:"security_answer"`
	Status           string      `json:"status"`
	Transaction      Transaction `json:"transaction"`
}

type Transaction struct {
	Name     string  `json:"name"`
	Time     string  `json:"time"`
	Category string  `json:"category"`
	Source   string  `json:"source"`
	Amount   float64 `json:"amount"`
	Location string  `json:"location"`
}

// Summary renders the disclosure sentence read to a verified customer.
func (c *CaseFile) Summary() string {
	t := c.Transaction
	return fmt.Sprintf("A transaction of $%.2f at %s from %s in %s on %s using your card ending in %s",
		t.Amount, t.Name, t.Source, t.Location, t.Time, c.CardEnding)
}

/* ----- Lead payload ----- */

// LeadProfile accumulates qualification answers one field at a time. Field
// keys follow the persisted JSON names.
type LeadProfile struct {
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	UseCase  string `json:"use_case,omitempty"`
	TeamSize string `json:"team_size,omitempty"`
	Timeline string `json:"timeline,omitempty"`
}

var ErrUnknownLeadField = errors.New("unknown lead field")

// Set writes one profile field. Setting a field twice overwrites, last
// answer wins. Values are trimmed; an empty value clears the field.
func (l *LeadProfile) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "name":
		l.Name = value
	case "company":
		l.Company = value
	case "email":
		l.Email = value
	case "role":
		l.Role = value
	case "use_case", "use case":
		l.UseCase = value
	case "team_size", "team size":
		l.TeamSize = value
	case "timeline":
		l.Timeline = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLeadField, field)
	}
	return nil
}

// Values maps canonical field keys to their current values, for callers
// that need to know what is still missing.
func (l *LeadProfile) Values() map[string]string {
	return map[string]string{
		"name":      l.Name,
		"company":   l.Company,
		"email":     l.Email,
		"role":      l.Role,
		"use_case":  l.UseCase,
		"team_size": l.TeamSize,
		"timeline":  l.Timeline,
	}
}

// CollectedFields lists the display names of the fields answered so far, in
// the qualification order.
func (l *LeadProfile) CollectedFields() []string {
	var out []string
	for _, f := range []struct {
		label, value string
	}{
		{"name", l.Name},
		{"company", l.Company},
		{"email", l.Email},
		{"role", l.Role},
		{"use case", l.UseCase},
		{"team size", l.TeamSize},
		{"timeline", l.Timeline},
	} {
		if f.value != "" {
			out = append(out, f.label)
		}
	}
	return out
}

func (l *LeadProfile) Empty() bool {
	return len(l.CollectedFields()) == 0
}

/* ----- Order payload ----- */

// LineItem is one cart entry. UnitPrice is frozen at add time so a later
// catalog change never reprices an open cart.
type LineItem struct {
	ItemID    string  `json:"item_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Notes     string  `json:"notes,omitempty"`
}

func (li LineItem) Subtotal() float64 {
	return roundCents(li.UnitPrice * float64(li.Quantity))
}

// Cart keeps line items in insertion order and a running total rounded to
// cents. Every mutation recomputes the total.
type Cart struct {
	Items []LineItem `json:"items"`
	Total float64    `json:"total"`
}

func NewCart() *Cart {
	return &Cart{Items: []LineItem{}}
}

// Add appends a line item, or bumps the quantity when the item is already
// in the cart. Quantities below one are ignored.
func (c *Cart) Add(item LineItem) {
	if item.Quantity < 1 {
		return
	}
	for i := range c.Items {
		if c.Items[i].ItemID == item.ItemID {
			c.Items[i].Quantity += item.Quantity
			if item.Notes != "" {
				c.Items[i].Notes = item.Notes
			}
			c.recompute()
			return
		}
	}
	c.Items = append(c.Items, item)
	c.recompute()
}

// Remove drops an item. Removing something not in the cart is a no-op and
// reports false.
func (c *Cart) Remove(itemID string) bool {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.recompute()
			return true
		}
	}
	return false
}

// SetQuantity replaces an item's quantity. Zero or less removes the item;
// an item not in the cart reports false.
func (c *Cart) SetQuantity(itemID string, quantity int) bool {
	if quantity <= 0 {
		return c.Remove(itemID)
	}
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items[i].Quantity = quantity
			c.recompute()
			return true
		}
	}
	return false
}

func (c *Cart) Find(itemID string) (LineItem, bool) {
	for _, it := range c.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return LineItem{}, false
}

func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

func (c *Cart) recompute() {
	c.Total = c.computeTotal()
}

func (c *Cart) computeTotal() float64 {
	var sum float64
	for _, it := range c.Items {
		sum += it.Subtotal()
	}
	return roundCents(sum)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

package tool

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
)

// HandlerFunc runs one tool against the session. Handlers mutate st in
// place; the engine persists it only after a nil error, so a failed handler
// leaves the stored session untouched. Customer-facing problems (unknown
// item, empty cart) are not errors: return a reply that says so and keep
// the session open.
type HandlerFunc func(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error)

// Tool binds LLM-facing metadata to its handler and its place in the stage
// machine. MinStage gates how early a tool may run, MaxStage (optional) how
// late. Terminal marks the closing tool of a flow.
type Tool struct {
	Info     *schema.ToolInfo
	MinStage statex.Stage
	MaxStage statex.Stage

	// GuardReply is spoken when the stage gate rejects the call. Empty
	// falls back to a generic refusal.
	GuardReply string

	Terminal bool
	Handler  HandlerFunc
}

const defaultGuardReply = "I'm sorry, I can't do that at this point in the call."

// Registry is the tool surface of one flow. Iteration follows registration
// order so the model always sees a stable catalog.
type Registry struct {
	flow  contractx.FlowType
	order []string
	tools map[string]*Tool
}

func NewRegistry(flow contractx.FlowType) *Registry {
	return &Registry{
		flow:  flow,
		tools: make(map[string]*Tool),
	}
}

func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Info == nil || t.Info.Name == "" {
		return fmt.Errorf("%w: tool needs info and a name", contractx.ErrValidation)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", contractx.ErrValidation, t.Info.Name)
	}
	if _, exists := r.tools[t.Info.Name]; exists {
		return fmt.Errorf("%w: tool %s registered twice", contractx.ErrValidation, t.Info.Name)
	}
	r.order = append(r.order, t.Info.Name)
	r.tools[t.Info.Name] = t
	return nil
}

func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Flow() contractx.FlowType {
	return r.flow
}

func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Infos returns the catalog handed to the chat model.
func (r *Registry) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Info)
	}
	return out
}

// Execute runs the named tool after checking the stage gates.
//
// A closed session accepts only its closing tool, and then only to replay
// the frozen final reply; nothing runs twice. Gate rejections return
// ErrPreconditionNotMet together with a reply carrying the polite refusal,
// so callers can both log the violation and keep the conversation going.
func (r *Registry) Execute(ctx context.Context, st *statex.SessionState, name string, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}

	if st.Terminal() {
		if t.Terminal && st.FinalReply != "" {
			return &contractx.ToolReply{Speech: st.FinalReply, Result: map[string]any{"replayed": true}}, nil
		}
		return r.refusal(t), fmt.Errorf("%w: session %s is closed (%s)", contractx.ErrPreconditionNotMet, st.SessionID, st.Stage)
	}

	if !st.Stage.AtLeast(t.MinStage) {
		return r.refusal(t), fmt.Errorf("%w: %s requires stage %s, session at %s", contractx.ErrPreconditionNotMet, name, t.MinStage, st.Stage)
	}
	if t.MaxStage != "" && st.Stage.Rank() > t.MaxStage.Rank() {
		return r.refusal(t), fmt.Errorf("%w: %s is over at stage %s", contractx.ErrPreconditionNotMet, name, st.Stage)
	}

	return t.Handler(ctx, st, args)
}

func (r *Registry) refusal(t *Tool) *contractx.ToolReply {
	msg := t.GuardReply
	if msg == "" {
		msg = defaultGuardReply
	}
	return &contractx.ToolReply{Speech: msg}
}

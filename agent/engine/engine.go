// Package engine drives one dialogue turn end to end: validate the tool
// call, load or create the session, run the tool through its stage gates,
// save the session, and hand back the sentence to speak. One engine serves
// one flow; the voice runtime holds an engine per campaign.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

const defaultSaveRetryDelay = 100 * time.Millisecond

type Engine struct {
	flow     contractx.FlowType
	store    statex.Store
	registry *toolx.Registry

	graphRunner compose.Runnable[Request, Response]

	now            func() time.Time
	saveRetryDelay time.Duration
}

type Option func(*Engine)

// WithClock fixes the engine's clock. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSaveRetryDelay sets the pause before the single session-save retry.
func WithSaveRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.saveRetryDelay = d
		}
	}
}

func New(store statex.Store, registry *toolx.Registry, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}

	e := &Engine{
		flow:           registry.Flow(),
		store:          store,
		registry:       registry,
		now:            time.Now,
		saveRetryDelay: defaultSaveRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}

	graphRunner, err := e.compileToolCallGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.graphRunner = graphRunner

	return e, nil
}

func (e *Engine) Flow() contractx.FlowType {
	return e.flow
}

// Tools is the catalog the chat model binds when this engine backs an
// LLM-driven conversation.
func (e *Engine) Tools() []*schema.ToolInfo {
	return e.registry.Infos()
}

// Handle runs one tool call and returns the spoken reply.
func (e *Engine) Handle(ctx context.Context, req Request) (Response, error) {
	return e.graphRunner.Invoke(ctx, req)
}

// Sweep drops sessions idle for longer than the window and reports how many
// went. Abandoned calls otherwise pile up in the store forever.
func (e *Engine) Sweep(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := e.now().UTC().Add(-idleFor)
	n, err := e.store.SweepIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().
			Str("flow", string(e.flow)).
			Int("sessions", n).
			Msg("swept idle sessions")
	}
	return n, nil
}

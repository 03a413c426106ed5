// Package runtime puts a chat model in front of a flow engine: the model
// picks tools, the engine runs them, and their replies feed back into the
// transcript until the model speaks a plain sentence.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/voxkit/callflow/agent/contract"
	enginex "github.com/voxkit/callflow/agent/engine"
	promptx "github.com/voxkit/callflow/agent/prompt"
)

// ErrToolLoop means the model kept requesting tools past the round budget.
var ErrToolLoop = errors.New("tool rounds exhausted")

const defaultMaxToolRounds = 6

// Conversation is one caller's LLM-driven session against a flow engine.
// Not safe for concurrent use; a call is a single sequential exchange.
type Conversation struct {
	engine    *enginex.Engine
	runner    compose.Runnable[[]*schema.Message, *schema.Message]
	sessionID string

	history       []*schema.Message
	maxToolRounds int
	closed        bool
}

// NewConversation binds the engine's tool catalog to the chat model and
// seeds the transcript with the system prompt.
func NewConversation(
	ctx context.Context,
	engine *enginex.Engine,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	sessionID string,
) (*Conversation, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	toolModel, err := chatModel.WithTools(engine.Tools())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for flow=%s: %v", contractx.ErrModelInvoke, engine.Flow(), err)
	}

	runner, err := compileTurnGraph(ctx, toolModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	history := []*schema.Message{}
	if prompt := strings.TrimSpace(systemPrompt); prompt != "" {
		history = append(history, schema.SystemMessage(prompt))
	}

	return &Conversation{
		engine:        engine,
		runner:        runner,
		sessionID:     sessionID,
		history:       history,
		maxToolRounds: defaultMaxToolRounds,
	}, nil
}

// Dial builds the flow's chat model from config, picks its system prompt,
// and opens a conversation.
func Dial(ctx context.Context, engine *enginex.Engine, cfg Config, sessionID string) (*Conversation, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	modelCfg := cfg.OpenRouterFor(engine.Flow())
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create model for flow=%s: %v", contractx.ErrModelInvoke, engine.Flow(), err)
	}

	return NewConversation(ctx, engine, chatModel, promptFor(engine.Flow()), sessionID)
}

// Say feeds the caller's words to the model, runs whatever tools it asks
// for, and returns the sentence to speak back.
func (c *Conversation) Say(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: caller text is empty", contractx.ErrValidation)
	}
	c.history = append(c.history, schema.UserMessage(text))

	for round := 0; round < c.maxToolRounds; round++ {
		msg, err := c.runner.Invoke(ctx, c.history)
		if err != nil {
			return "", fmt.Errorf("%w: turn invoke: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil {
			return "", fmt.Errorf("%w: model returned no message", contractx.ErrSchemaViolation)
		}
		c.history = append(c.history, msg)

		if len(msg.ToolCalls) == 0 {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				return "", fmt.Errorf("%w: model returned empty content", contractx.ErrSchemaViolation)
			}
			return content, nil
		}

		for _, call := range msg.ToolCalls {
			out, err := c.executeToolCall(ctx, call)
			if err != nil {
				return "", err
			}
			c.history = append(c.history, schema.ToolMessage(out, call.ID))
		}
	}

	return "", fmt.Errorf("%w: after %d rounds", ErrToolLoop, c.maxToolRounds)
}

// SessionID identifies the engine session this conversation drives.
func (c *Conversation) SessionID() string {
	return c.sessionID
}

// Closed reports whether a terminal tool has ended the session.
func (c *Conversation) Closed() bool {
	return c.closed
}

// executeToolCall runs one model-requested tool through the engine. Unknown
// tools and malformed arguments go back to the model as error payloads so it
// can correct itself; infrastructure failures abort the turn.
func (c *Conversation) executeToolCall(ctx context.Context, call schema.ToolCall) (string, error) {
	name := strings.TrimSpace(call.Function.Name)

	args, err := decodeArgs(call.Function.Arguments)
	if err != nil {
		log.Warn().Str("session_id", c.sessionID).Str("tool", name).Msg("model sent malformed tool arguments")
		return errorPayload(err), nil
	}

	resp, err := c.engine.Handle(ctx, enginex.Request{
		SessionID: c.sessionID,
		Tool:      name,
		Args:      args,
	})
	if err != nil {
		if errors.Is(err, contractx.ErrUnknownTool) || errors.Is(err, contractx.ErrValidation) {
			log.Warn().Err(err).Str("session_id", c.sessionID).Str("tool", name).Msg("model sent a bad tool call")
			return errorPayload(err), nil
		}
		return "", err
	}

	if resp.Closed {
		c.closed = true
	}

	payload, err := json.Marshal(map[string]any{
		"speech": resp.Speech,
		"result": resp.Result,
		"stage":  resp.Stage,
		"closed": resp.Closed,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal tool payload: %v", contractx.ErrValidation, err)
	}
	return string(payload), nil
}

func decodeArgs(raw string) (contractx.ToolArgs, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return contractx.ToolArgs{}, nil
	}
	args := contractx.ToolArgs{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: invalid tool arguments: %v", contractx.ErrValidation, err)
	}
	return args, nil
}

func errorPayload(err error) string {
	out, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool call failed"}`
	}
	return string(out)
}

func promptFor(flow contractx.FlowType) string {
	prompts := promptx.LoadPromptSet()
	switch flow {
	case contractx.FlowFraud:
		return prompts.Fraud
	case contractx.FlowLead:
		return prompts.Lead
	case contractx.FlowOrder:
		return prompts.Order
	}
	return ""
}

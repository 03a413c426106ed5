package engine

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
)

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrInvalidTool    = errors.New("tool name is empty")
)

// Request is one inbound tool call from the voice runtime.
type Request struct {
	SessionID string
	Tool      string
	Args      contractx.ToolArgs
}

// Response carries the sentence to speak plus the session facts the caller
// needs to steer the conversation.
type Response struct {
	SessionID string
	Speech    string
	Result    any
	Stage     statex.Stage
	Closed    bool
}

type graphState struct {
	SessionID string
	Tool      string
	Args      contractx.ToolArgs
	Now       time.Time

	Session    *statex.SessionState
	Reply      *contractx.ToolReply
	SaveFailed bool
}

func validateRequest(in Request, nowFn func() time.Time) (*graphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	tool := strings.TrimSpace(in.Tool)
	if tool == "" {
		return nil, ErrInvalidTool
	}

	return &graphState{
		SessionID: sessionID,
		Tool:      tool,
		Args:      in.Args,
		Now:       nowFn().UTC(),
	}, nil
}

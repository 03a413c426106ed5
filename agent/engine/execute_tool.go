package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/voxkit/callflow/agent/contract"
	toolx "github.com/voxkit/callflow/agent/tool"
)

// persistenceApology is what the caller hears when a record write keeps
// failing. The session stays open so the conversation can pick up again.
const persistenceApology = "I'm sorry, I'm having trouble saving that on my end. Could you bear with me a moment and we'll try again?"

func executeTool(ctx context.Context, in *graphState, registry *toolx.Registry) (*graphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	reply, err := registry.Execute(ctx, in.Session, in.Tool, in.Args)
	switch {
	case err == nil:
		log.Info().
			Str("session_id", in.SessionID).
			Str("flow", string(registry.Flow())).
			Str("tool", in.Tool).
			Str("stage", string(in.Session.Stage)).
			Msg("tool executed")
	case errors.Is(err, contractx.ErrPreconditionNotMet):
		// Out-of-order calls answer with the tool's guard line; the raw
		// violation goes to the log, never to the caller.
		log.Warn().
			Str("session_id", in.SessionID).
			Str("tool", in.Tool).
			Str("stage", string(in.Session.Stage)).
			Msg("tool called out of order")
	case errors.Is(err, contractx.ErrPersistence):
		log.Error().Err(err).
			Str("session_id", in.SessionID).
			Str("tool", in.Tool).
			Msg("record write failed, session stays open")
		reply = &contractx.ToolReply{Speech: persistenceApology}
	default:
		return nil, err
	}

	if reply == nil {
		return nil, fmt.Errorf("%w: tool %s returned no reply", contractx.ErrValidation, in.Tool)
	}
	in.Reply = reply
	return in, nil
}

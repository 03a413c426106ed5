package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
)

func saveSession(
	ctx context.Context,
	in *graphState,
	store statex.Store,
	retryDelay time.Duration,
) (*graphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}

	err := store.Save(ctx, in.Session)
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", in.SessionID).
			Msg("session save failed, retrying")
		time.Sleep(retryDelay)
		err = store.Save(ctx, in.Session)
	}
	if err != nil {
		// One retry is the budget. The stored session keeps its last good
		// state, so the next turn resumes from there.
		log.Error().Err(err).
			Str("session_id", in.SessionID).
			Msg("session save failed twice, replying with apology")
		in.Reply = &contractx.ToolReply{Speech: persistenceApology}
		in.SaveFailed = true
	}

	return in, nil
}

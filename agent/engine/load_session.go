package engine

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
)

func loadSession(
	ctx context.Context,
	in *graphState,
	store statex.Store,
	flow contractx.FlowType,
) (*graphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.SessionID)
	if errors.Is(err, statex.ErrSessionNotFound) {
		st = statex.NewSessionState(in.SessionID, flow, in.Now)
	} else if err != nil {
		return nil, err
	}

	if st.Flow != flow {
		return nil, fmt.Errorf("%w: session %s belongs to flow %s, not %s",
			contractx.ErrValidation, in.SessionID, st.Flow, flow)
	}

	in.Session = st
	return in, nil
}

package engine

import (
	"fmt"
	"strings"

	contractx "github.com/voxkit/callflow/agent/contract"
)

func finalizeReply(in *graphState) (Response, error) {
	if in == nil || in.Session == nil || in.Reply == nil {
		return Response{}, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	speech := strings.TrimSpace(in.Reply.Speech)
	if speech == "" {
		return Response{}, fmt.Errorf("%w: tool %s returned empty speech", contractx.ErrValidation, in.Tool)
	}

	return Response{
		SessionID: in.SessionID,
		Speech:    speech,
		Result:    in.Reply.Result,
		Stage:     in.Session.Stage,
		Closed:    in.Session.Terminal() && !in.SaveFailed,
	}, nil
}

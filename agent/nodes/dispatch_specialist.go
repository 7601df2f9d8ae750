package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	specialistx "github.com/dukalink/dukalink/agent/agents/specialist"
	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// maxChainLength bounds the one-shot handler chain inside a single turn
// (image analysis into search into recommendation is the longest case).
const maxChainLength = 3

// DispatchSpecialist hands the turn to the decided handler and follows
// its chain up to the bound. One dispatch decision per turn; the chain is
// the handlers passing the same turn along, not new decisions.
func DispatchSpecialist(ctx context.Context, in *GraphState, handlers specialistx.Set) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.State.Mode = statex.ModeSpecialistActive
	in.Dispatched = true

	step := in.Decision.Target
	for hop := 0; hop < maxChainLength; hop++ {
		handler, ok := handlers[step]
		if !ok {
			log.Error().Str("step", string(step)).Msg("no handler for dispatched step")
			break
		}

		in.State.CurrentStep = step
		resp, err := handler.Handle(ctx, specialistx.Request{
			State:       in.State,
			UserMessage: in.Text,
			ImageURL:    in.ImageURL,
			ToolCtx:     in.ToolContext(),
		})
		if err != nil {
			log.Error().Err(err).Str("step", string(step)).Msg("specialist handler failed")
			break
		}

		if resp.Reply != "" {
			in.Reply = resp.Reply
			in.Media = resp.Media
		}
		if resp.ResetContext {
			in.State.ResetContext()
		}
		if resp.Next == "" {
			break
		}
		step = resp.Next
	}

	in.State.Mode = statex.ModeChatting
	return in, nil
}

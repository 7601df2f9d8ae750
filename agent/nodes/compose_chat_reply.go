package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// ComposeChatReply produces the conversational reply for a turn the
// router kept in chat. Canned greetings skip the model entirely.
func ComposeChatReply(ctx context.Context, in *GraphState, responder contractx.Responder) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if in.State.TurnIndex == 1 {
		in.State.CurrentStep = statex.StepGreeting
	}

	if in.Decision.CannedReply != "" {
		in.Reply = in.Decision.CannedReply
		return in, nil
	}

	composed, err := responder.Compose(ctx, contractx.ComposeRequest{
		Mode:         "chat",
		UserMessage:  in.Text,
		CustomerName: in.CustomerName,
		History:      in.State.RecentHistory(6),
		Context:      in.State.Context,
		NextQuestion: in.Decision.NextQuestion,
		TurnIndex:    in.State.TurnIndex,
		BeDirect:     in.BeDirect,
	})
	if err == nil && composed.Message != "" {
		in.Reply = composed.Message
		return in, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("chat compose failed, using clarifying question")
	}

	// The decision's clarifying question doubles as the degraded reply.
	if in.Decision.NextQuestion != "" {
		in.Reply = in.Decision.NextQuestion
	}
	return in, nil
}

package nodes

import (
	"fmt"
	"strings"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

// RecordHistory settles the final reply text and appends this turn's
// exchange as a strict user/agent pair. It runs before the checkpoint so
// the persisted history always includes the reply that went out.
func RecordHistory(in *GraphState) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if strings.TrimSpace(in.Reply) == "" {
		in.Reply = FallbackReply
	}

	userText := in.Text
	if userText == "" && in.ImageURL != "" {
		userText = "[photo]"
	}

	in.State.AppendExchange(userText, in.Reply)
	in.State.LastReplyText = in.Reply
	in.State.LastReplyMedia = in.Media
	return in, nil
}

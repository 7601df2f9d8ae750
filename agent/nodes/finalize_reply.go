package nodes

import (
	"fmt"
	"strings"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

// FallbackReply is the last-resort message when every layer above failed
// to produce one. The customer never sees silence.
const FallbackReply = "Sorry, I didn't quite catch that. Tell me what you're shopping for, like \"a red dress for a wedding\", and I'll help you find it."

// FinalizeReply closes the turn with a guaranteed non-empty reply.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.State == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = FallbackReply
	}

	return GraphOutput{Reply: reply, Media: in.Media}, nil
}

package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

// ExtractContext merges whatever slots the extractor learned from this
// message. This node never fails the turn; worst case the context simply
// does not grow.
func ExtractContext(ctx context.Context, in *GraphState, extractor contractx.Extractor) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Text == "" {
		return in, nil
	}

	merged, err := extractor.Extract(ctx, contractx.ExtractRequest{
		UserMessage: in.Text,
		Previous:    in.State.Context,
	})
	if err != nil {
		log.Warn().Err(err).Msg("context extraction errored, keeping previous context")
		return in, nil
	}

	in.State.Context = merged
	return in, nil
}

package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// LoadOrCreateState fetches the conversation checkpoint and opens the
// turn. A store outage degrades the turn to stateless instead of failing
// it: the customer still gets an answer, just without memory.
func LoadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.ThreadID)
	switch {
	case err == nil:
	case errors.Is(err, statex.ErrStateNotFound):
		st = statex.NewConversationState(in.ThreadID, in.BoutiqueID, in.CustomerID, in.ChannelAddress, in.Now)
	default:
		log.Error().Err(err).Str("thread_id", in.ThreadID).Msg("state store unreachable, running stateless")
		st = statex.NewConversationState(in.ThreadID, in.BoutiqueID, in.CustomerID, in.ChannelAddress, in.Now)
		in.Stateless = true
	}

	st.BeginTurn(in.Now)
	in.State = st
	return in, nil
}

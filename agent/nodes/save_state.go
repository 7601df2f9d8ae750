package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// SaveState checkpoints the conversation. Persistence failures are logged
// and swallowed: by this point the reply exists and the customer gets it
// no matter what the store thinks.
func SaveState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Stateless {
		log.Warn().Str("thread_id", in.ThreadID).Msg("stateless turn, skipping checkpoint")
		return in, nil
	}

	in.State.Touch(in.Now)
	if err := in.State.Validate(); err != nil {
		log.Error().Err(err).Str("thread_id", in.ThreadID).Msg("state failed validation, not persisting")
		return in, nil
	}

	if err := store.Save(ctx, in.State); err != nil {
		if errors.Is(err, statex.ErrTurnConflict) {
			// A concurrent turn won the compare-and-set. Its checkpoint is
			// newer than ours, so losing this write is correct.
			log.Warn().Str("thread_id", in.ThreadID).Int("turn", in.State.TurnIndex).
				Msg("turn conflict on save, concurrent turn won")
		} else {
			log.Error().Err(err).Str("thread_id", in.ThreadID).Msg("checkpoint save failed")
		}
	}

	return in, nil
}

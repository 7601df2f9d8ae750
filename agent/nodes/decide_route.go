package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// DecideRoute settles chat-versus-specialist for the turn. Images always
// go to analysis; everything else asks the router, then the policy has
// the last word.
func DecideRoute(ctx context.Context, in *GraphState, router contractx.Router, policy Policy) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	policy = policy.normalized()

	if in.ImageURL != "" {
		in.Decision = contractx.Decision{
			Action:     contractx.ActionRoute,
			Confidence: 1.0,
			Target:     statex.StepImageAnalysis,
			Reason:     "image_attached",
		}
		in.State.RoutingConfidence = 1.0
		return in, nil
	}

	decision, err := router.Decide(ctx, contractx.DecisionInput{
		UserMessage: in.Text,
		History:     in.State.RecentHistory(5),
		Context:     in.State.Context,
		CartSize:    len(in.State.CartSnapshot),
		FoundCount:  len(in.State.FoundItems),
		TurnIndex:   in.State.TurnIndex,
		HasImage:    false,
	})
	if err != nil {
		// Router implementations degrade internally; an error here is a
		// bug, but the turn still answers.
		log.Error().Err(err).Msg("router returned an error, demoting to chat")
		decision = contractx.Decision{Action: contractx.ActionChat, Confidence: 0.3, Reason: "router_error"}
	}

	// Confidence gate: dispatch only on a strictly convincing decision.
	if decision.Action == contractx.ActionRoute && decision.Confidence <= policy.ConfidenceThreshold {
		log.Debug().
			Float64("confidence", decision.Confidence).
			Str("target", string(decision.Target)).
			Msg("routing decision below gate, demoting to chat")
		decision.Action = contractx.ActionChat
		decision.Target = ""
		decision.Reason = "below_gate"
	}

	// A long conversation with a known product type nudges the responder
	// toward the catalog. The gate above stays the only dispatch authority.
	if decision.Action == contractx.ActionChat && decision.CannedReply == "" && policy.nudgeDirect(in.State) {
		in.BeDirect = true
	}

	in.Decision = decision
	in.State.RoutingConfidence = decision.Confidence
	return in, nil
}

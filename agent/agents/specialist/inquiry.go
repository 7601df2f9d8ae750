package specialist

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// inquiryTools is the subset the responder may request while answering a
// service question. Mutating tools stay out of reach here.
var inquiryTools = map[string]struct{}{
	"get_order_status":     {},
	"get_customer_orders":  {},
	"check_payment_status": {},
	"check_inventory":      {},
	"get_cart":             {},
}

// inquiryHandler answers service questions (orders, delivery, stock)
// with a two-pass compose: the model may request read-only tools once,
// then must produce a final message from the results.
type inquiryHandler struct {
	deps Deps
}

func (h *inquiryHandler) Step() statex.Step { return statex.StepGeneralInquiry }

func (h *inquiryHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State

	composeReq := contractx.ComposeRequest{
		Mode:        "inquiry",
		UserMessage: req.UserMessage,
		History:     st.RecentHistory(6),
		Context:     st.Context,
		TurnIndex:   st.TurnIndex,
	}

	composed, err := h.deps.Registry.Responder().Compose(ctx, composeReq)
	if err != nil {
		log.Warn().Err(err).Msg("inquiry compose failed")
		return Response{Reply: inquiryFallback}, nil
	}

	if len(composed.ToolRequests) == 0 {
		return Response{Reply: composed.Message}, nil
	}

	calls := filterInquiryCalls(composed.ToolRequests)
	composeReq.ToolResults = h.deps.Tools.ExecuteAll(ctx, calls, req.ToolCtx)

	final, err := h.deps.Registry.Responder().Compose(ctx, composeReq)
	if err != nil || strings.TrimSpace(final.Message) == "" {
		log.Warn().Err(err).Msg("inquiry final compose failed")
		return Response{Reply: inquiryFallback}, nil
	}

	return Response{Reply: final.Message}, nil
}

const inquiryFallback = "I'm not able to look that up right now. Please try again shortly, or tell me what you'd like to shop for."

// filterInquiryCalls keeps only read-only tools and drops duplicates so
// one inquiry turn stays bounded.
func filterInquiryCalls(requests []contractx.ToolCall) []contractx.ToolCall {
	seen := map[string]struct{}{}
	var calls []contractx.ToolCall
	for _, call := range requests {
		if _, allowed := inquiryTools[call.Tool]; !allowed {
			continue
		}
		if _, dup := seen[call.Tool]; dup {
			continue
		}
		seen[call.Tool] = struct{}{}
		calls = append(calls, call)
	}
	return calls
}

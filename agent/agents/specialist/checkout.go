package specialist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
	toolx "github.com/dukalink/dukalink/agent/tool"
)

// checkoutHandler turns the cart into an order and fires the M-Pesa
// prompt. An empty cart ends the turn without touching the payment rail.
type checkoutHandler struct {
	deps Deps
}

func (h *checkoutHandler) Step() statex.Step { return statex.StepCheckout }

func (h *checkoutHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State

	cartResult := h.deps.Tools.Execute(ctx, contractx.ToolCall{Tool: "get_cart"}, req.ToolCtx)
	if !cartResult.Ok() {
		log.Warn().Str("error", cartResult.Error).Msg("checkout cart read failed")
		return Response{Reply: "I can't reach your cart right now. Please try checking out again in a moment."}, nil
	}

	view, _ := cartResult.Result.(toolx.CartView)
	syncCartSnapshot(st, view)
	if len(view.Lines) == 0 {
		return Response{Reply: "Your cart is empty, so there's nothing to pay for yet. Want me to show you some options first?"}, nil
	}

	payResult := h.deps.Tools.Execute(ctx, contractx.ToolCall{Tool: "initiate_payment"}, req.ToolCtx)
	if !payResult.Ok() {
		log.Warn().Str("error", payResult.Error).Msg("initiate_payment failed")
		return Response{Reply: "Something went wrong starting the payment. Your cart is safe; say \"checkout\" to try again."}, nil
	}

	payload, _ := payResult.Result.(map[string]any)
	reference, _ := payload["order_reference"].(string)
	total, _ := payload["total_kes"].(int64)

	st.CartSnapshot = nil
	st.CurrentStep = statex.StepPayment
	st.ResetContext()

	return Response{
		Reply: fmt.Sprintf(
			"Order %s confirmed, total %s. Check your phone for the M-Pesa prompt and enter your PIN to pay. Ask me \"did my payment go through?\" any time.",
			reference, formatKES(total)),
	}, nil
}

// paymentHandler answers "did my payment go through" for the most recent
// order.
type paymentHandler struct {
	deps Deps
}

func (h *paymentHandler) Step() statex.Step { return statex.StepPayment }

func (h *paymentHandler) Handle(ctx context.Context, req Request) (Response, error) {
	ordersResult := h.deps.Tools.Execute(ctx, contractx.ToolCall{
		Tool: "get_customer_orders",
		Args: map[string]any{"limit": 1},
	}, req.ToolCtx)
	if !ordersResult.Ok() {
		log.Warn().Str("error", ordersResult.Error).Msg("order lookup failed")
		return Response{Reply: "I can't check your orders right now. Please try again shortly."}, nil
	}

	orders, _ := ordersResult.Result.([]map[string]any)
	if len(orders) == 0 {
		return Response{Reply: "I don't see any orders for you yet. Would you like to browse and place one?"}, nil
	}

	reference, _ := orders[0]["order_reference"].(string)
	statusResult := h.deps.Tools.Execute(ctx, contractx.ToolCall{
		Tool: "check_payment_status",
		Args: map[string]any{"order_reference": reference},
	}, req.ToolCtx)
	if !statusResult.Ok() {
		log.Warn().Str("error", statusResult.Error).Msg("payment status check failed")
		return Response{Reply: fmt.Sprintf("I couldn't verify the payment for order %s just now. Please try again in a minute.", reference)}, nil
	}

	payload, _ := statusResult.Result.(map[string]any)
	switch payload["status"] {
	case "paid":
		return Response{Reply: fmt.Sprintf("Payment received for order %s. Asante sana! We'll message you when it's on the way.", reference)}, nil
	case "failed":
		return Response{Reply: fmt.Sprintf("The payment for order %s didn't go through. Say \"checkout\" and I'll send a fresh M-Pesa prompt.", reference)}, nil
	default:
		return Response{Reply: fmt.Sprintf("Order %s is still waiting for payment. Check your phone for the M-Pesa prompt.", reference)}, nil
	}
}

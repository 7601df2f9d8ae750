package specialist

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
	toolx "github.com/dukalink/dukalink/agent/tool"
)

// sizeHandler resolves the pending size question and, when a product is
// already chosen, completes the cart add in the same turn.
type sizeHandler struct {
	deps Deps
}

func (h *sizeHandler) Step() statex.Step { return statex.StepSizeSelection }

func (h *sizeHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State

	size := parseSize(req.UserMessage)
	if size == "" {
		size = strings.ToUpper(strings.TrimSpace(st.Context[statex.SlotSize]))
	}
	if size == "" {
		return Response{Reply: "Which size would you like? We usually stock S, M, L and XL."}, nil
	}

	st.SelectedSize = size
	st.MergeContext(statex.Context{statex.SlotSize: strings.ToLower(size)})

	if st.SelectedProductID == "" {
		if picked := resolveSelection(st, req.UserMessage); picked != nil {
			st.SelectedProductID = picked.ID
		}
	}
	if st.SelectedProductID == "" {
		return Response{Reply: fmt.Sprintf("Noted, size %s. Which of the items I showed you should I add to your cart?", size)}, nil
	}

	return addToCart(ctx, h.deps, st, req.ToolCtx)
}

// cartHandler covers add, view and remove intents against the cart.
type cartHandler struct {
	deps Deps
}

func (h *cartHandler) Step() statex.Step { return statex.StepCartManagement }

func (h *cartHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State
	lowered := strings.ToLower(req.UserMessage)

	switch {
	case strings.Contains(lowered, "remove") || strings.Contains(lowered, "take out") || strings.Contains(lowered, "toa"):
		return h.remove(ctx, req)
	case strings.Contains(lowered, "view") || strings.Contains(lowered, "show") || strings.Contains(lowered, "what's in") || strings.Contains(lowered, "my cart"):
		return h.view(ctx, req)
	}

	// Default intent is adding the product the customer just picked.
	if picked := resolveSelection(st, req.UserMessage); picked != nil {
		st.SelectedProductID = picked.ID
	}
	if st.SelectedProductID == "" {
		return h.view(ctx, req)
	}

	if size := parseSize(req.UserMessage); size != "" {
		st.SelectedSize = size
	} else if st.SelectedSize == "" && st.Context.Has(statex.SlotSize) {
		st.SelectedSize = strings.ToUpper(st.Context[statex.SlotSize])
	}

	if st.SelectedSize == "" {
		// Park on size selection; the ask happens now, the add happens
		// next turn when the customer answers.
		st.CurrentStep = statex.StepSizeSelection
		return Response{Reply: "Good choice! What size should I add for you?"}, nil
	}

	return addToCart(ctx, h.deps, st, req.ToolCtx)
}

func (h *cartHandler) view(ctx context.Context, req Request) (Response, error) {
	result := h.deps.Tools.Execute(ctx, contractx.ToolCall{Tool: "get_cart"}, req.ToolCtx)
	if !result.Ok() {
		log.Warn().Str("error", result.Error).Msg("get_cart failed")
		return Response{Reply: "I can't open your cart right now. Please try again in a moment."}, nil
	}

	view, _ := result.Result.(toolx.CartView)
	syncCartSnapshot(req.State, view)

	if len(view.Lines) == 0 {
		return Response{Reply: "Your cart is empty. Tell me what you're looking for and I'll find options for you."}, nil
	}
	return Response{Reply: cartReply(view)}, nil
}

func (h *cartHandler) remove(ctx context.Context, req Request) (Response, error) {
	st := req.State

	productID := ""
	if picked := resolveSelection(st, req.UserMessage); picked != nil {
		productID = picked.ID
	} else {
		// Fall back to matching against the cart snapshot by name.
		lowered := strings.ToLower(req.UserMessage)
		for _, line := range st.CartSnapshot {
			for _, w := range strings.Fields(strings.ToLower(line.Name)) {
				if len(w) > 3 && strings.Contains(lowered, w) {
					productID = line.ProductID
					break
				}
			}
		}
	}
	if productID == "" {
		return Response{Reply: "Which item should I remove? You can give me its name or its number in the cart."}, nil
	}

	result := h.deps.Tools.Execute(ctx, contractx.ToolCall{
		Tool: "remove_from_cart",
		Args: map[string]any{"product_id": productID},
	}, req.ToolCtx)
	if !result.Ok() {
		log.Warn().Str("error", result.Error).Msg("remove_from_cart failed")
		return Response{Reply: "I couldn't remove that item. Could you tell me again which one to take out?"}, nil
	}

	view, _ := result.Result.(toolx.CartView)
	syncCartSnapshot(st, view)

	if len(view.Lines) == 0 {
		return Response{Reply: "Done, your cart is now empty. Want to keep browsing?"}, nil
	}
	return Response{Reply: "Done! " + cartReply(view)}, nil
}

// addToCart performs the add and clears the pending selection on success.
func addToCart(ctx context.Context, deps Deps, st *statex.ConversationState, tctx contractx.ToolContext) (Response, error) {
	result := deps.Tools.Execute(ctx, contractx.ToolCall{
		Tool: "add_to_cart",
		Args: map[string]any{
			"product_id": st.SelectedProductID,
			"size":       st.SelectedSize,
		},
	}, tctx)
	if !result.Ok() {
		log.Warn().Str("error", result.Error).Msg("add_to_cart failed")
		// Size or stock problems are customer-facing; pass them through.
		return Response{Reply: fmt.Sprintf("I couldn't add that: %s. Would you like a different size or item?", result.Error)}, nil
	}

	view, _ := result.Result.(toolx.CartView)
	syncCartSnapshot(st, view)
	st.SelectedProductID = ""
	st.SelectedSize = ""

	return Response{Reply: fmt.Sprintf("Added to your cart! %s Say \"checkout\" when you're ready to pay.", cartReply(view))}, nil
}

func cartReply(view toolx.CartView) string {
	var b strings.Builder
	b.WriteString("Your cart:\n")
	for i, line := range view.Lines {
		fmt.Fprintf(&b, "%d. %s (size %s) x%d, %s\n", i+1, line.ProductName, line.Size, line.Quantity, formatKES(line.UnitPriceKES*int64(line.Quantity)))
	}
	fmt.Fprintf(&b, "Total: %s", formatKES(view.TotalKES))
	return b.String()
}

func syncCartSnapshot(st *statex.ConversationState, view toolx.CartView) {
	st.CartSnapshot = st.CartSnapshot[:0]
	for _, line := range view.Lines {
		st.CartSnapshot = append(st.CartSnapshot, statex.CartLine{
			ProductID: line.ProductID,
			Name:      line.ProductName,
			Size:      line.Size,
			Quantity:  line.Quantity,
			Price:     float64(line.UnitPriceKES),
		})
	}
}

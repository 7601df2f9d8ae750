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

// imageHandler turns a product photo into search context and chains into
// the catalog search.
type imageHandler struct {
	deps Deps
}

func (h *imageHandler) Step() statex.Step { return statex.StepImageAnalysis }

func (h *imageHandler) Handle(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return Response{Reply: "I didn't receive the photo. Could you resend it, or describe the item in words?"}, nil
	}

	analysis, err := h.deps.Registry.Vision().Analyze(ctx, req.ImageURL)
	if err != nil {
		log.Warn().Err(err).Msg("image analysis failed")
		return Response{Reply: "I couldn't make out the photo clearly. Tell me what you're looking for, like the colour and type of item, and I'll search for you."}, nil
	}

	req.State.MergeContext(statex.Context{
		statex.SlotProductType: analysis.Category,
		statex.SlotColor:       analysis.Color,
		statex.SlotStyle:       analysis.Style,
	})

	return Response{Next: statex.StepProductSearch}, nil
}

// searchHandler queries the catalog with the gathered context and parks
// the hits on the state for the recommendation step.
type searchHandler struct {
	deps Deps
}

func (h *searchHandler) Step() statex.Step { return statex.StepProductSearch }

func (h *searchHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State

	args := map[string]any{}
	if st.Context.Has(statex.SlotProductType) {
		args["query"] = st.Context[statex.SlotProductType]
	}
	if st.Context.Has(statex.SlotColor) {
		args["color"] = st.Context[statex.SlotColor]
	}
	if st.Context.Has(statex.SlotOccasion) {
		args["occasion"] = st.Context[statex.SlotOccasion]
	}
	if st.Context.Has(statex.SlotStyle) {
		args["style"] = st.Context[statex.SlotStyle]
	}
	if max := parseMaxPrice(st.Context[statex.SlotPriceRange]); max > 0 {
		args["max_price"] = max
	}

	result := h.deps.Tools.Execute(ctx, contractx.ToolCall{Tool: "search_products", Args: args}, req.ToolCtx)
	if !result.Ok() {
		log.Warn().Str("error", result.Error).Msg("product search failed")
		return Response{Reply: "I'm having trouble checking the catalog right now. Give me a moment and ask again."}, nil
	}

	summaries, _ := result.Result.([]toolx.ProductSummary)
	st.FoundItems = st.FoundItems[:0]
	for _, p := range summaries {
		ref := statex.ProductRef{
			ID:       p.ID,
			Name:     p.Name,
			Category: p.Category,
			Price:    float64(p.PriceKES),
			Sizes:    p.Sizes,
		}
		if p.ImageURL != "" {
			ref.ImageURLs = []string{p.ImageURL}
		}
		st.FoundItems = append(st.FoundItems, ref)
	}

	if len(st.FoundItems) == 0 {
		return Response{Reply: noResultsReply(st.Context)}, nil
	}

	return Response{Next: statex.StepRecommendation}, nil
}

func noResultsReply(c statex.Context) string {
	var desc []string
	for _, slot := range []string{statex.SlotColor, statex.SlotStyle, statex.SlotProductType} {
		if c.Has(slot) {
			desc = append(desc, c[slot])
		}
	}
	if len(desc) == 0 {
		return "I couldn't find a match for that in stock right now. Would you like to try a different colour or style?"
	}
	return fmt.Sprintf("I couldn't find a %s in stock right now. Would you like me to look for something similar in a different colour or style?", strings.Join(desc, " "))
}

// parseMaxPrice pulls the upper bound out of a budget phrase like
// "under 3000" or "3000-5000". Zero means no cap.
func parseMaxPrice(priceRange string) int64 {
	var max int64
	var current int64
	seen := false
	for _, r := range priceRange {
		if r >= '0' && r <= '9' {
			current = current*10 + int64(r-'0')
			seen = true
			continue
		}
		if r == ',' && seen {
			// Thousands separator inside a number.
			continue
		}
		if seen && current > max {
			max = current
		}
		current = 0
		seen = false
	}
	if seen && current > max {
		max = current
	}
	return max
}

// recommendHandler presents the found products, preferring the responder
// model's phrasing with a deterministic listing as the fallback.
type recommendHandler struct {
	deps Deps
}

func (h *recommendHandler) Step() statex.Step { return statex.StepRecommendation }

func (h *recommendHandler) Handle(ctx context.Context, req Request) (Response, error) {
	st := req.State
	if len(st.FoundItems) == 0 {
		return Response{Reply: noResultsReply(st.Context)}, nil
	}

	media := collectMedia(st.FoundItems, 3)

	composed, err := h.deps.Registry.Responder().Compose(ctx, contractx.ComposeRequest{
		Mode:        "recommend",
		UserMessage: req.UserMessage,
		History:     st.RecentHistory(6),
		Context:     st.Context,
		TurnIndex:   st.TurnIndex,
		Products:    st.FoundItems,
	})
	if err == nil && composed.Message != "" {
		return Response{Reply: composed.Message, Media: media}, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("recommendation compose failed, using listing fallback")
	}

	return Response{Reply: listingReply(st.FoundItems), Media: media}, nil
}

func listingReply(items []statex.ProductRef) string {
	var b strings.Builder
	b.WriteString("Here's what I found for you:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s, %s", i+1, item.Name, formatKES(int64(item.Price)))
		if len(item.Sizes) > 0 {
			fmt.Fprintf(&b, " (sizes %s)", strings.Join(item.Sizes, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("Which one would you like?")
	return b.String()
}

func collectMedia(items []statex.ProductRef, limit int) []string {
	var media []string
	for _, item := range items {
		for _, url := range item.ImageURLs {
			if url == "" {
				continue
			}
			media = append(media, url)
			if len(media) >= limit {
				return media
			}
		}
	}
	return media
}

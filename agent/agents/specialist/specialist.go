// Package specialist hosts the per-step task handlers the router can
// dispatch a turn to. Handlers are deterministic orchestration around
// tools and the responder model; the routing decision itself never
// happens here.
package specialist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

// Request is one dispatched turn. State is mutated in place; the graph
// runner owns persistence.
type Request struct {
	State       *statex.ConversationState
	UserMessage string
	ImageURL    string
	ToolCtx     contractx.ToolContext
}

// Response is what a handler hands back to the graph runner. Next, when
// set, asks the runner to continue the turn on another handler; the
// runner bounds that chain, not the handler.
type Response struct {
	Reply        string
	Media        []string
	Next         statex.Step
	ResetContext bool
}

// Handler executes one specialist step.
type Handler interface {
	Step() statex.Step
	Handle(ctx context.Context, req Request) (Response, error)
}

// Deps is everything handlers share.
type Deps struct {
	Registry contractx.Registry
	Tools    contractx.ToolGateway
}

// Set maps each dispatchable step to its handler.
type Set map[statex.Step]Handler

func NewSet(deps Deps) (Set, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", contractx.ErrValidation)
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("%w: tool gateway is required", contractx.ErrValidation)
	}

	handlers := []Handler{
		&imageHandler{deps: deps},
		&searchHandler{deps: deps},
		&recommendHandler{deps: deps},
		&sizeHandler{deps: deps},
		&cartHandler{deps: deps},
		&checkoutHandler{deps: deps},
		&paymentHandler{deps: deps},
		&inquiryHandler{deps: deps},
	}

	set := make(Set, len(handlers))
	for _, h := range handlers {
		set[h.Step()] = h
	}
	return set, nil
}

// resolveSelection matches a customer utterance against the products
// surfaced last turn: by ordinal ("the first one", "number 2"), by bare
// index, or by name substring.
func resolveSelection(st *statex.ConversationState, message string) *statex.ProductRef {
	if st == nil || len(st.FoundItems) == 0 {
		return nil
	}

	lowered := strings.ToLower(message)

	ordinals := map[string]int{
		"first": 0, "1st": 0,
		"second": 1, "2nd": 1,
		"third": 2, "3rd": 2,
		"fourth": 3, "4th": 3,
		"fifth": 4, "5th": 4,
		"last": len(st.FoundItems) - 1,
	}
	for _, field := range strings.Fields(lowered) {
		token := strings.Trim(field, ".,!?#")
		if idx, ok := ordinals[token]; ok && idx >= 0 && idx < len(st.FoundItems) {
			return &st.FoundItems[idx]
		}
		if n, err := strconv.Atoi(token); err == nil && n >= 1 && n <= len(st.FoundItems) {
			return &st.FoundItems[n-1]
		}
	}

	for i := range st.FoundItems {
		name := strings.ToLower(st.FoundItems[i].Name)
		if name != "" && strings.Contains(lowered, name) {
			return &st.FoundItems[i]
		}
		// Partial name match on any word longer than 3 chars.
		for _, w := range strings.Fields(name) {
			if len(w) > 3 && strings.Contains(lowered, w) {
				return &st.FoundItems[i]
			}
		}
	}

	return nil
}

var knownSizes = map[string]string{
	"xs": "XS", "s": "S", "small": "S",
	"m": "M", "medium": "M",
	"l": "L", "large": "L",
	"xl": "XL", "xxl": "XXL",
	"6": "6", "8": "8", "10": "10", "12": "12", "14": "14", "16": "16",
}

// parseSize pulls a size token out of free text.
func parseSize(message string) string {
	for _, field := range strings.Fields(strings.ToLower(message)) {
		token := strings.Trim(field, ".,!?")
		if size, ok := knownSizes[token]; ok {
			return size
		}
	}
	return ""
}

func formatKES(amount int64) string {
	return fmt.Sprintf("KES %s", groupThousands(amount))
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

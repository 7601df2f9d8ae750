package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

type routerImpl struct {
	runner compose.Runnable[map[string]any, routerLLMOutput]
}

type routerLLMOutput struct {
	Action       string  `json:"action"`
	Confidence   float64 `json:"confidence"`
	Target       string  `json:"target,omitempty"`
	NextQuestion string  `json:"next_question,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

func newRouter(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*routerImpl, error) {
	runner, err := compileStructuredLLMGraph[routerLLMOutput](ctx, chatModel, systemPrompt, "reasoner.router_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile router graph: %v", contractx.ErrModelInvoke, err)
	}
	return &routerImpl{runner: runner}, nil
}

// Decide routes one turn. Trivial greetings never reach the model; any
// model failure degrades to a clarifying chat turn so the conversation
// keeps moving.
func (r *routerImpl) Decide(ctx context.Context, in contractx.DecisionInput) (contractx.Decision, error) {
	if !in.HasImage && isGreeting(in.UserMessage) {
		return contractx.Decision{
			Action:      contractx.ActionChat,
			Confidence:  1.0,
			Reason:      "greeting",
			CannedReply: greetingReply(in.UserMessage),
		}, nil
	}

	input, err := json.Marshal(in)
	if err != nil {
		return fallbackDecision("marshal_failed"), nil
	}

	out, err := r.runner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		log.Warn().Err(err).Msg("router invoke failed, defaulting to chat")
		return fallbackDecision("router_failed"), nil
	}

	decision, err := validateDecision(out)
	if err != nil {
		log.Warn().Err(err).Str("action", out.Action).Str("target", out.Target).
			Msg("router output rejected, defaulting to chat")
		return fallbackDecision("schema_violation"), nil
	}
	return decision, nil
}

func validateDecision(out routerLLMOutput) (contractx.Decision, error) {
	action := contractx.DecisionAction(strings.ToLower(strings.TrimSpace(out.Action)))
	if action != contractx.ActionChat && action != contractx.ActionRoute {
		return contractx.Decision{}, fmt.Errorf("%w: action=%q", contractx.ErrSchemaViolation, out.Action)
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	decision := contractx.Decision{
		Action:       action,
		Confidence:   confidence,
		NextQuestion: strings.TrimSpace(out.NextQuestion),
		Reason:       strings.TrimSpace(out.Reason),
	}

	if action == contractx.ActionRoute {
		target := statex.Step(strings.ToLower(strings.TrimSpace(out.Target)))
		if !routableStep(target) {
			return contractx.Decision{}, fmt.Errorf("%w: target=%q", contractx.ErrSchemaViolation, out.Target)
		}
		decision.Target = target
	}

	return decision, nil
}

// routableStep accepts every specialist a routing decision may name.
// Greeting is a conversational step, never a dispatch target.
func routableStep(step statex.Step) bool {
	switch step {
	case statex.StepImageAnalysis, statex.StepProductSearch, statex.StepRecommendation,
		statex.StepSizeSelection, statex.StepCartManagement, statex.StepCheckout,
		statex.StepPayment, statex.StepGeneralInquiry:
		return true
	default:
		return false
	}
}

const fallbackQuestion = "What are you shopping for today? Tell me the item, colour or occasion and I'll find options for you."

func fallbackDecision(reason string) contractx.Decision {
	return contractx.Decision{
		Action:       contractx.ActionChat,
		Confidence:   0.3,
		NextQuestion: fallbackQuestion,
		Reason:       reason,
	}
}

// greetingWords covers English, Swahili and Sheng openers customers
// actually send.
var greetingWords = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "heyy": {}, "yo": {},
	"jambo": {}, "habari": {}, "sasa": {}, "mambo": {}, "niaje": {},
	"vipi": {}, "hujambo": {}, "morning": {}, "afternoon": {}, "evening": {},
	"good": {},
}

// isGreeting is deliberately narrow: at most three tokens and every token
// a known greeting word. "hi, do you have dresses?" must not match.
func isGreeting(text string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '!', '?', '.', ',', '\U0001F44B':
			return -1
		}
		return r
	}, cleaned)

	fields := strings.Fields(cleaned)
	if len(fields) == 0 || len(fields) > 3 {
		return false
	}
	for _, f := range fields {
		if _, ok := greetingWords[f]; !ok {
			return false
		}
	}
	return true
}

func greetingReply(text string) string {
	if strings.Contains(strings.ToLower(text), "jambo") || strings.Contains(strings.ToLower(text), "habari") {
		return "Karibu! Niaje, what can I find for you today? We have dresses, tops and more."
	}
	return "Hello! Welcome to the boutique. What are you shopping for today?"
}

package reasoner

import (
	"context"
	"encoding/json"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

type extractorImpl struct {
	runner compose.Runnable[map[string]any, map[string]string]
}

func newExtractor(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*extractorImpl, error) {
	runner, err := compileStructuredLLMGraph[map[string]string](ctx, chatModel, systemPrompt, "reasoner.extractor_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile extractor graph: %v", contractx.ErrModelInvoke, err)
	}
	return &extractorImpl{runner: runner}, nil
}

// Extract runs slot extraction over one utterance. Model failures and
// schema garbage degrade to "nothing new learned": the previous context
// comes back untouched and the turn continues.
func (e *extractorImpl) Extract(ctx context.Context, req contractx.ExtractRequest) (statex.Context, error) {
	previous := req.Previous.Clone()

	payload := map[string]any{
		"user_message":     req.UserMessage,
		"previous_context": req.Previous,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return previous, nil
	}

	out, err := e.runner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		log.Warn().Err(err).Msg("context extraction failed, keeping previous context")
		return previous, nil
	}

	// Merge filters unknown slots and refuses to overwrite or erase
	// anything already gathered.
	return previous.Merge(statex.Context(out)), nil
}

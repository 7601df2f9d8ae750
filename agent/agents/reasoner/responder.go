package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

type responderImpl struct {
	runner compose.Runnable[map[string]any, composeLLMOutput]
}

type composeLLMOutput struct {
	Message      string               `json:"message"`
	ToolRequests []contractx.ToolCall `json:"tool_requests,omitempty"`
}

func newResponder(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*responderImpl, error) {
	runner, err := compileStructuredLLMGraph[composeLLMOutput](ctx, chatModel, systemPrompt, "reasoner.responder_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile responder graph: %v", contractx.ErrModelInvoke, err)
	}
	return &responderImpl{runner: runner}, nil
}

func (r *responderImpl) Compose(ctx context.Context, req contractx.ComposeRequest) (contractx.ComposeResponse, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return contractx.ComposeResponse{}, fmt.Errorf("%w: marshal compose payload: %v", contractx.ErrValidation, err)
	}

	out, err := r.runner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return contractx.ComposeResponse{}, fmt.Errorf("%w: responder invoke: %v", contractx.ErrModelInvoke, err)
	}

	message := strings.TrimSpace(out.Message)
	if message == "" && len(out.ToolRequests) == 0 {
		return contractx.ComposeResponse{}, fmt.Errorf("%w: responder produced neither message nor tool requests", contractx.ErrSchemaViolation)
	}

	return contractx.ComposeResponse{
		Message:      message,
		ToolRequests: out.ToolRequests,
	}, nil
}

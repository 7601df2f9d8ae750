package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/dukalink/dukalink/agent/contract"
)

// visionImpl calls OpenRouter through the raw SDK because the eino graph
// layer has no multimodal message builder; everything else stays on the
// graph pipeline.
type visionImpl struct {
	client       *openaisdk.Client
	model        string
	systemPrompt string
}

func newVision(client *openaisdk.Client, model, systemPrompt string) (*visionImpl, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: vision client is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: vision model is required", contractx.ErrValidation)
	}
	return &visionImpl{client: client, model: model, systemPrompt: systemPrompt}, nil
}

func (v *visionImpl) Analyze(ctx context.Context, imageURL string) (contractx.ImageAnalysis, error) {
	if strings.TrimSpace(imageURL) == "" {
		return contractx.ImageAnalysis{}, fmt.Errorf("%w: image url is required", contractx.ErrValidation)
	}

	resp, err := v.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(v.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(v.systemPrompt),
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart("What is this garment? Answer with the JSON object only."),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: imageURL,
				}),
			}),
		},
	})
	if err != nil {
		return contractx.ImageAnalysis{}, fmt.Errorf("%w: vision invoke: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return contractx.ImageAnalysis{}, fmt.Errorf("%w: vision returned no choices", contractx.ErrModelInvoke)
	}

	analysis, err := parseImageAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return contractx.ImageAnalysis{}, err
	}
	return analysis, nil
}

// parseImageAnalysis tolerates markdown fences around the JSON body,
// which vision models add no matter what the prompt says.
func parseImageAnalysis(content string) (contractx.ImageAnalysis, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var analysis contractx.ImageAnalysis
	if err := json.Unmarshal([]byte(trimmed), &analysis); err != nil {
		return contractx.ImageAnalysis{}, fmt.Errorf("%w: parse vision output: %v", contractx.ErrSchemaViolation, err)
	}
	if strings.TrimSpace(analysis.SearchQuery) == "" {
		analysis.SearchQuery = strings.TrimSpace(strings.Join([]string{analysis.Color, analysis.Category}, " "))
	}
	if strings.TrimSpace(analysis.SearchQuery) == "" {
		return contractx.ImageAnalysis{}, fmt.Errorf("%w: vision output has no usable search query", contractx.ErrSchemaViolation)
	}
	return analysis, nil
}

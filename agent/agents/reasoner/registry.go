// Package reasoner builds the model-backed reasoning roles: slot
// extraction, turn routing, reply composition and image analysis. Each
// role compiles its own graph against its own model configuration.
package reasoner

import (
	"context"
	"fmt"

	contractx "github.com/dukalink/dukalink/agent/contract"
	llmx "github.com/dukalink/dukalink/agent/llm"
	promptx "github.com/dukalink/dukalink/agent/prompt"
	openrouterx "github.com/dukalink/dukalink/pkg/openrouter"
)

type registryImpl struct {
	extractor contractx.Extractor
	router    contractx.Router
	responder contractx.Responder
	vision    contractx.Vision
}

func (r *registryImpl) Extractor() contractx.Extractor { return r.extractor }
func (r *registryImpl) Router() contractx.Router       { return r.router }
func (r *registryImpl) Responder() contractx.Responder { return r.responder }
func (r *registryImpl) Vision() contractx.Vision       { return r.vision }

func NewRegistry(ctx context.Context, cfg llmx.Config) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompts := promptx.LoadPromptSet()

	extractorModelCfg := cfg.OpenRouterFor(contractx.AgentRoleExtractor)
	extractorModel, err := extractorModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create extractor model: %v", contractx.ErrModelInvoke, err)
	}
	routerModelCfg := cfg.OpenRouterFor(contractx.AgentRoleRouter)
	routerModel, err := routerModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create router model: %v", contractx.ErrModelInvoke, err)
	}
	responderModelCfg := cfg.OpenRouterFor(contractx.AgentRoleResponder)
	responderModel, err := responderModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create responder model: %v", contractx.ErrModelInvoke, err)
	}

	extractor, err := newExtractor(ctx, extractorModel, prompts.Extractor)
	if err != nil {
		return nil, err
	}
	router, err := newRouter(ctx, routerModel, prompts.Router)
	if err != nil {
		return nil, err
	}
	responder, err := newResponder(ctx, responderModel, prompts.Responder)
	if err != nil {
		return nil, err
	}

	visionCfg := cfg.OpenRouterFor(contractx.AgentRoleVision)
	vision, err := newVision(openrouterx.NewClient(visionCfg), visionCfg.Model, prompts.Vision)
	if err != nil {
		return nil, err
	}

	return &registryImpl{
		extractor: extractor,
		router:    router,
		responder: responder,
		vision:    vision,
	}, nil
}

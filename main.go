package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dukalink/dukalink/agent/agents/orchestrator"
	reasonerx "github.com/dukalink/dukalink/agent/agents/reasoner"
	specialistx "github.com/dukalink/dukalink/agent/agents/specialist"
	llmx "github.com/dukalink/dukalink/agent/llm"
	statex "github.com/dukalink/dukalink/agent/state"
	toolx "github.com/dukalink/dukalink/agent/tool"
	configx "github.com/dukalink/dukalink/pkg/config"
	_ "github.com/dukalink/dukalink/pkg/logger/autoload"
	paylinkx "github.com/dukalink/dukalink/pkg/paylink"
	whatsappx "github.com/dukalink/dukalink/pkg/whatsapp"
	serverx "github.com/dukalink/dukalink/server"
	storagex "github.com/dukalink/dukalink/storage"
)

func main() {
	ctx := context.Background()

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}

	stateCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	stateStore, err := statex.NewUpstashRedisStore(*stateCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize state store")
	}

	db := storagex.MustNew(*configx.MustNew[storagex.Config]("POSTGRES"))
	payments := paylinkx.MustNew(*configx.MustNew[paylinkx.Config]("PAYLINK"))
	messenger := whatsappx.MustNew(*configx.MustNew[whatsappx.Config]("TWILIO"))

	tools, err := toolx.NewRegistry(db, db, db, payments)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build tool registry")
	}

	models, err := reasonerx.NewRegistry(ctx, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model registry")
	}

	handlers, err := specialistx.NewSet(specialistx.Deps{
		Registry: models,
		Tools:    tools,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build specialist handlers")
	}

	orch, err := orchestrator.New(stateStore, models, handlers, orchestrator.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	srv, err := serverx.New(*configx.MustNew[serverx.Config]("SERVER"), orch, messenger, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build http server")
	}

	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

package contract

import (
	"context"

	statex "github.com/dukalink/dukalink/agent/state"
)

// Extractor produces an updated slot context from one utterance. It must
// never regress previously gathered slots and must swallow model failures
// by returning the previous context untouched.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (statex.Context, error)
}

// Router decides chat-vs-specialist for one turn. Implementations return
// a valid Decision even when the decision source fails.
type Router interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

// Responder phrases user-facing messages and may request tool execution.
type Responder interface {
	Compose(ctx context.Context, req ComposeRequest) (ComposeResponse, error)
}

// Vision analyses a product image into searchable attributes.
type Vision interface {
	Analyze(ctx context.Context, imageURL string) (ImageAnalysis, error)
}

// Registry bundles the reasoning-model roles the engine depends on.
type Registry interface {
	Extractor() Extractor
	Router() Router
	Responder() Responder
	Vision() Vision
}

// ToolGateway executes registered tools. Execute never returns a Go error
// for tool-level failures; those are folded into the result.
type ToolGateway interface {
	Execute(ctx context.Context, call ToolCall, tctx ToolContext) ToolResult
	ExecuteAll(ctx context.Context, calls []ToolCall, tctx ToolContext) []ToolResult
}

// Messenger delivers the composed reply on the outbound channel.
type Messenger interface {
	Send(ctx context.Context, to, body string, mediaURLs []string) error
}

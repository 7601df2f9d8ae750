package contract

import (
	statex "github.com/dukalink/dukalink/agent/state"
)

// AgentRole selects a model configuration for one of the reasoning roles.
type AgentRole string

const (
	AgentRoleExtractor AgentRole = "extractor"
	AgentRoleRouter    AgentRole = "router"
	AgentRoleResponder AgentRole = "responder"
	AgentRoleVision    AgentRole = "vision"
)

// DecisionAction is the tagged variant of a routing decision: either keep
// chatting or hand the turn to exactly one specialist.
type DecisionAction string

const (
	ActionChat  DecisionAction = "chat"
	ActionRoute DecisionAction = "route"
)

// ExtractRequest carries one utterance plus the context gathered so far.
type ExtractRequest struct {
	UserMessage string         `json:"user_message"`
	Previous    statex.Context `json:"previous_context"`
}

// DecisionInput is everything the routing engine is allowed to consume.
type DecisionInput struct {
	UserMessage string                `json:"user_message"`
	History     []statex.HistoryEntry `json:"history"` // last 5 entries
	Context     statex.Context        `json:"gathered_context"`
	CartSize    int                   `json:"cart_size"`
	FoundCount  int                   `json:"found_count"`
	TurnIndex   int                   `json:"turn_index"`
	HasImage    bool                  `json:"has_image"`
}

// Decision is the routing engine's output. Confidence is advisory; the
// graph runner applies the commit gate. CannedReply, when set, is sent
// verbatim without a composer round-trip (greeting short-circuit).
type Decision struct {
	Action       DecisionAction `json:"action"`
	Confidence   float64        `json:"confidence"`
	Target       statex.Step    `json:"target,omitempty"`
	NextQuestion string         `json:"next_question,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	CannedReply  string         `json:"-"`
}

// ComposeRequest asks the responder model for a user-facing message.
type ComposeRequest struct {
	Mode         string                `json:"mode"` // "chat" | "recommend" | "inquiry"
	UserMessage  string                `json:"user_message"`
	CustomerName string                `json:"customer_name,omitempty"`
	History      []statex.HistoryEntry `json:"history,omitempty"`
	Context      statex.Context        `json:"gathered_context,omitempty"`
	NextQuestion string                `json:"next_question,omitempty"`
	TurnIndex    int                   `json:"turn_index"`
	BeDirect     bool                  `json:"be_direct,omitempty"`
	Products     []statex.ProductRef   `json:"products,omitempty"`
	ToolResults  []ToolResult          `json:"tool_results,omitempty"`
}

// ComposeResponse is either a finished message or a request for tools to
// run first. A response with tool requests has no message yet; the caller
// executes them and composes again with the results folded in.
type ComposeResponse struct {
	Message      string     `json:"message"`
	ToolRequests []ToolCall `json:"tool_requests,omitempty"`
}

// ImageAnalysis is the structured result of vision over a product photo.
type ImageAnalysis struct {
	Category    string `json:"category"`
	Color       string `json:"color"`
	Style       string `json:"style"`
	Description string `json:"description"`
	SearchQuery string `json:"search_query"`
}

// ToolCall is a structured request from the reasoning layer to invoke a
// registered tool.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the per-call outcome: a success payload or an error
// string, never both. Errors are data here, not Go errors; the turn
// continues regardless.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Ok reports whether the call produced a usable payload.
func (r ToolResult) Ok() bool {
	return r.Error == ""
}

// ToolContext is the identity scope injected into every tool invocation;
// tools never trust identifiers from model-produced arguments.
type ToolContext struct {
	BoutiqueID     string
	CustomerID     string
	ConversationID string
	Phone          string
}

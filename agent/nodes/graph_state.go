// Package nodes holds the per-node functions of the message handling
// graph. Each node takes the shared GraphState, does one thing, and hands
// the state on; the orchestrator wires them together.
package nodes

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidThread  = errors.New("thread id is empty")
)

// GraphInput is one inbound customer message.
type GraphInput struct {
	ThreadID       string
	BoutiqueID     string
	CustomerID     string
	ChannelAddress string
	CustomerName   string
	Text           string
	ImageURL       string
}

// GraphOutput is the reply to deliver on the channel.
type GraphOutput struct {
	Reply string
	Media []string
}

// GraphState threads one turn through the graph. Tool results and the
// routing decision live here because they never outlive the turn.
type GraphState struct {
	ThreadID       string
	BoutiqueID     string
	CustomerID     string
	ChannelAddress string
	CustomerName   string
	Text           string
	ImageURL       string
	Now            time.Time

	State *statex.ConversationState

	// Stateless marks a turn running without a loaded checkpoint because
	// the state store is unreachable. The turn still answers; it just
	// won't remember.
	Stateless bool

	Decision   contractx.Decision
	Dispatched bool

	// BeDirect tells the responder to steer toward the catalog instead of
	// asking another open question.
	BeDirect bool

	Reply string
	Media []string
}

// ToolContext builds the identity scope tools run under for this turn.
func (g *GraphState) ToolContext() contractx.ToolContext {
	return contractx.ToolContext{
		BoutiqueID:     g.BoutiqueID,
		CustomerID:     g.CustomerID,
		ConversationID: g.ThreadID,
		Phone:          g.ChannelAddress,
	}
}

// ValidateRequest screens the raw input. A message with an image but no
// text is valid; a message with neither is not.
func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	text := strings.TrimSpace(in.Text)
	imageURL := strings.TrimSpace(in.ImageURL)
	if text == "" && imageURL == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		ThreadID:       threadID,
		BoutiqueID:     strings.TrimSpace(in.BoutiqueID),
		CustomerID:     strings.TrimSpace(in.CustomerID),
		ChannelAddress: strings.TrimSpace(in.ChannelAddress),
		CustomerName:   strings.TrimSpace(in.CustomerName),
		Text:           text,
		ImageURL:       imageURL,
		Now:            nowFn().UTC(),
	}, nil
}

package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Step identifies the graph node a conversation is currently parked on.
type Step string

const (
	StepGreeting       Step = "greeting"
	StepImageAnalysis  Step = "image_analysis"
	StepProductSearch  Step = "product_search"
	StepRecommendation Step = "recommendation"
	StepSizeSelection  Step = "size_selection"
	StepCartManagement Step = "cart_management"
	StepCheckout       Step = "checkout"
	StepPayment        Step = "payment"
	StepGeneralInquiry Step = "general_inquiry"
)

// Mode tracks whether the engine is still gathering context or has
// committed the turn to a specialist.
type Mode string

const (
	ModeChatting         Mode = "chatting"
	ModeRouting          Mode = "routing"
	ModeSpecialistActive Mode = "specialist_active"
)

// Slot names recognised by the context extractor. Anything outside this
// set is dropped on merge.
const (
	SlotProductType = "product_type"
	SlotColor       = "color"
	SlotOccasion    = "occasion"
	SlotStyle       = "style"
	SlotSize        = "size"
	SlotPriceRange  = "price_range"
)

var knownSlots = map[string]struct{}{
	SlotProductType: {},
	SlotColor:       {},
	SlotOccasion:    {},
	SlotStyle:       {},
	SlotSize:        {},
	SlotPriceRange:  {},
}

// Context is the accumulated slot map for a conversation.
type Context map[string]string

// Merge applies extracted values on top of the receiver and returns a new
// map. Empty extractions never clear a previously gathered slot.
func (c Context) Merge(extracted Context) Context {
	merged := make(Context, len(c)+len(extracted))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range extracted {
		if _, ok := knownSlots[k]; !ok {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		merged[k] = strings.TrimSpace(v)
	}
	return merged
}

// Clone returns an independent copy.
func (c Context) Clone() Context {
	cloned := make(Context, len(c))
	for k, v := range c {
		cloned[k] = v
	}
	return cloned
}

// Has reports whether a slot holds a non-empty value.
func (c Context) Has(slot string) bool {
	return strings.TrimSpace(c[slot]) != ""
}

// HistoryEntry is one side of a request/response exchange.
type HistoryEntry struct {
	Role string `json:"role"` // "user" | "agent"
	Text string `json:"text"`
}

// ProductRef is a candidate product surfaced by the last search. It is a
// read-through projection of the catalog row, not the row itself.
type ProductRef struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty"`
	Price     float64  `json:"price"`
	Sizes     []string `json:"sizes,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// CartLine mirrors one line of the external cart.
type CartLine struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Size      string  `json:"size"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// historyWindow bounds how many entries survive in the persisted record.
const historyWindow = 20

// ConversationState is the unit of persistence and the sole value threaded
// through every graph node. Identity fields are immutable for the lifetime
// of the conversation; everything else is mutated only by the graph runner
// during a turn.
type ConversationState struct {
	ThreadID       string `json:"thread_id"`
	BoutiqueID     string `json:"boutique_id"`
	CustomerID     string `json:"customer_id"`
	ChannelAddress string `json:"channel_address"`

	TurnIndex   int  `json:"turn_index"`
	CurrentStep Step `json:"current_step"`
	Mode        Mode `json:"mode"`

	Context Context        `json:"gathered_context,omitempty"`
	History []HistoryEntry `json:"conversation_history,omitempty"`

	FoundItems   []ProductRef `json:"found_items,omitempty"`
	CartSnapshot []CartLine   `json:"cart_snapshot,omitempty"`

	// Pending product/size selection carried between a recommendation turn
	// and the cart turn that completes it.
	SelectedProductID string `json:"selected_product_id,omitempty"`
	SelectedSize      string `json:"selected_size,omitempty"`

	RoutingConfidence float64 `json:"routing_confidence"`

	LastReplyText  string   `json:"last_reply_text,omitempty"`
	LastReplyMedia []string `json:"last_reply_media,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNilState         = errors.New("conversation state is nil")
	ErrInvalidThread    = errors.New("thread id is empty")
	ErrHistoryCorrupt   = errors.New("conversation history corrupt")
	ErrTurnNotMonotonic = errors.New("turn index did not increase")
)

// NewConversationState initialises a fresh record for the first inbound
// message of a (boutique, customer) pair. TurnIndex starts at zero; the
// first BeginTurn moves it to one.
func NewConversationState(threadID, boutiqueID, customerID, channelAddress string, now time.Time) *ConversationState {
	return &ConversationState{
		ThreadID:       threadID,
		BoutiqueID:     boutiqueID,
		CustomerID:     customerID,
		ChannelAddress: channelAddress,
		CurrentStep:    StepGreeting,
		Mode:           ModeChatting,
		Context:        make(Context, len(knownSlots)),
		UpdatedAt:      now.UTC(),
	}
}

// BeginTurn opens a new turn: increments the turn counter and clears the
// per-turn output fields. Gathered context and history are deliberately
// left alone; they accumulate across turns.
func (s *ConversationState) BeginTurn(now time.Time) {
	s.TurnIndex++
	s.Mode = ModeChatting
	s.RoutingConfidence = 0
	s.LastReplyText = ""
	s.LastReplyMedia = nil
	s.Touch(now)
}

// MergeContext folds freshly extracted slots into the accumulated context.
func (s *ConversationState) MergeContext(extracted Context) {
	if s.Context == nil {
		s.Context = make(Context, len(knownSlots))
	}
	s.Context = s.Context.Merge(extracted)
}

// ResetContext clears gathered slots after a specialist completes the task
// they were gathered for. Explicit reset only; nothing clears slots
// implicitly.
func (s *ConversationState) ResetContext() {
	s.Context = make(Context, len(knownSlots))
}

// AppendExchange records the user message and the agent reply for this
// turn as a strict pair, then trims the window.
func (s *ConversationState) AppendExchange(userText, agentText string) {
	s.History = append(s.History,
		HistoryEntry{Role: "user", Text: userText},
		HistoryEntry{Role: "agent", Text: agentText},
	)
	if len(s.History) > historyWindow {
		s.History = append([]HistoryEntry(nil), s.History[len(s.History)-historyWindow:]...)
	}
}

// RecentHistory returns up to n trailing entries for prompting.
func (s *ConversationState) RecentHistory(n int) []HistoryEntry {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return append([]HistoryEntry(nil), s.History...)
	}
	return append([]HistoryEntry(nil), s.History[len(s.History)-n:]...)
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Validate checks the invariants a persisted record must satisfy.
func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilState
	}
	if strings.TrimSpace(s.ThreadID) == "" {
		return ErrInvalidThread
	}
	if s.TurnIndex < 0 {
		return fmt.Errorf("%w: turn_index=%d", ErrTurnNotMonotonic, s.TurnIndex)
	}
	if !validStep(s.CurrentStep) {
		return fmt.Errorf("invalid current_step=%q", s.CurrentStep)
	}
	if len(s.History)%2 != 0 {
		return fmt.Errorf("%w: odd entry count %d", ErrHistoryCorrupt, len(s.History))
	}
	for i := 0; i+1 < len(s.History); i += 2 {
		if s.History[i].Role != "user" || s.History[i+1].Role != "agent" {
			return fmt.Errorf("%w: roles do not alternate at index %d", ErrHistoryCorrupt, i)
		}
	}
	return nil
}

func validStep(step Step) bool {
	switch step {
	case StepGreeting, StepImageAnalysis, StepProductSearch, StepRecommendation,
		StepSizeSelection, StepCartManagement, StepCheckout, StepPayment, StepGeneralInquiry:
		return true
	default:
		return false
	}
}

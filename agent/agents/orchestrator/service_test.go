package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	specialistx "github.com/dukalink/dukalink/agent/agents/specialist"
	contractx "github.com/dukalink/dukalink/agent/contract"
	nodex "github.com/dukalink/dukalink/agent/nodes"
	statex "github.com/dukalink/dukalink/agent/state"
	toolx "github.com/dukalink/dukalink/agent/tool"
)

type fakeStore struct {
	mu      sync.Mutex
	states  map[string]*statex.ConversationState
	loadErr error
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]*statex.ConversationState{}}
}

func (f *fakeStore) Load(_ context.Context, threadID string) (*statex.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	st, ok := f.states[threadID]
	if !ok {
		return nil, statex.ErrStateNotFound
	}
	copied := *st
	return &copied, nil
}

func (f *fakeStore) Save(_ context.Context, st *statex.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *st
	f.states[st.ThreadID] = &copied
	f.saves++
	return nil
}

func (f *fakeStore) Delete(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, threadID)
	return nil
}

type fakeRegistry struct {
	extractFn func(contractx.ExtractRequest) (statex.Context, error)
	decideFn  func(contractx.DecisionInput) (contractx.Decision, error)
	composeFn func(contractx.ComposeRequest) (contractx.ComposeResponse, error)
	analyzeFn func(string) (contractx.ImageAnalysis, error)

	composeCalls int
}

func (f *fakeRegistry) Extractor() contractx.Extractor { return f }
func (f *fakeRegistry) Router() contractx.Router       { return f }
func (f *fakeRegistry) Responder() contractx.Responder { return f }
func (f *fakeRegistry) Vision() contractx.Vision       { return f }

func (f *fakeRegistry) Extract(_ context.Context, req contractx.ExtractRequest) (statex.Context, error) {
	if f.extractFn == nil {
		return req.Previous, nil
	}
	return f.extractFn(req)
}

func (f *fakeRegistry) Decide(_ context.Context, in contractx.DecisionInput) (contractx.Decision, error) {
	if f.decideFn == nil {
		return contractx.Decision{Action: contractx.ActionChat, Confidence: 0.5}, nil
	}
	return f.decideFn(in)
}

func (f *fakeRegistry) Compose(_ context.Context, req contractx.ComposeRequest) (contractx.ComposeResponse, error) {
	f.composeCalls++
	if f.composeFn == nil {
		return contractx.ComposeResponse{Message: "fake reply"}, nil
	}
	return f.composeFn(req)
}

func (f *fakeRegistry) Analyze(_ context.Context, imageURL string) (contractx.ImageAnalysis, error) {
	if f.analyzeFn == nil {
		return contractx.ImageAnalysis{}, errors.New("vision unavailable")
	}
	return f.analyzeFn(imageURL)
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []string
	results map[string]contractx.ToolResult
}

func (f *fakeGateway) Execute(_ context.Context, call contractx.ToolCall, _ contractx.ToolContext) contractx.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, call.Tool)
	f.mu.Unlock()
	if res, ok := f.results[call.Tool]; ok {
		res.Tool = call.Tool
		return res
	}
	return contractx.ToolResult{Tool: call.Tool, Error: "not scripted"}
}

func (f *fakeGateway) ExecuteAll(ctx context.Context, calls []contractx.ToolCall, tctx contractx.ToolContext) []contractx.ToolResult {
	var out []contractx.ToolResult
	for _, call := range calls {
		out = append(out, f.Execute(ctx, call, tctx))
	}
	return out
}

func (f *fakeGateway) count(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, name := range f.calls {
		if name == tool {
			n++
		}
	}
	return n
}

func newOrchestrator(t *testing.T, store *fakeStore, registry *fakeRegistry, gateway *fakeGateway) *Orchestrator {
	t.Helper()
	handlers, err := specialistx.NewSet(specialistx.Deps{Registry: registry, Tools: gateway})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	o, err := New(store, registry, handlers, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func input(text string) nodex.GraphInput {
	return nodex.GraphInput{
		ThreadID:       "b1:254712345678",
		BoutiqueID:     "b1",
		CustomerID:     "b1:254712345678",
		ChannelAddress: "254712345678",
		Text:           text,
	}
}

func TestGreetingShortCircuit(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		decideFn: func(contractx.DecisionInput) (contractx.Decision, error) {
			return contractx.Decision{
				Action:      contractx.ActionChat,
				Confidence:  1.0,
				CannedReply: "Hello! What are you shopping for today?",
			}, nil
		},
	}
	store := newFakeStore()
	o := newOrchestrator(t, store, registry, &fakeGateway{})

	reply, err := o.HandleMessage(context.Background(), input("hi"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != "Hello! What are you shopping for today?" {
		t.Errorf("reply = %q, want the canned greeting", reply.Text)
	}
	if registry.composeCalls != 0 {
		t.Errorf("canned greeting must not invoke the responder, got %d calls", registry.composeCalls)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestLowConfidenceRouteDemotedToChat(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		decideFn: func(contractx.DecisionInput) (contractx.Decision, error) {
			return contractx.Decision{
				Action:       contractx.ActionRoute,
				Confidence:   0.6,
				Target:       statex.StepProductSearch,
				NextQuestion: "What occasion is it for?",
			}, nil
		},
		composeFn: func(req contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			if req.Mode != "chat" {
				return contractx.ComposeResponse{}, errors.New("unexpected mode " + req.Mode)
			}
			return contractx.ComposeResponse{Message: "Lovely! What occasion is it for?"}, nil
		},
	}
	gateway := &fakeGateway{}
	o := newOrchestrator(t, newFakeStore(), registry, gateway)

	reply, err := o.HandleMessage(context.Background(), input("I want a dress"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if gateway.count("search_products") != 0 {
		t.Error("a sub-threshold decision must not dispatch the search specialist")
	}
	if !strings.Contains(reply.Text, "occasion") {
		t.Errorf("reply should carry the clarifying question, got %q", reply.Text)
	}
}

func TestConfidentRouteRunsSearchChain(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		extractFn: func(req contractx.ExtractRequest) (statex.Context, error) {
			return req.Previous.Merge(statex.Context{
				statex.SlotProductType: "dress",
				statex.SlotColor:       "red",
				statex.SlotOccasion:    "wedding",
			}), nil
		},
		decideFn: func(contractx.DecisionInput) (contractx.Decision, error) {
			return contractx.Decision{
				Action:     contractx.ActionRoute,
				Confidence: 0.95,
				Target:     statex.StepProductSearch,
			}, nil
		},
		composeFn: func(contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			return contractx.ComposeResponse{}, errors.New("model down")
		},
	}
	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"search_products": {Result: []toolx.ProductSummary{
			{ID: "p1", Name: "Red Maxi Dress", PriceKES: 3500, Sizes: []string{"M"}},
		}},
	}}
	store := newFakeStore()
	o := newOrchestrator(t, store, registry, gateway)

	reply, err := o.HandleMessage(context.Background(), input("I need a red dress for a wedding"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if gateway.count("search_products") != 1 {
		t.Fatalf("search_products calls = %d, want 1", gateway.count("search_products"))
	}
	if !strings.Contains(reply.Text, "Red Maxi Dress") {
		t.Errorf("reply should present the found product, got %q", reply.Text)
	}

	saved := store.states["b1:254712345678"]
	if saved == nil {
		t.Fatal("state was not checkpointed")
	}
	if saved.Context[statex.SlotColor] != "red" || saved.Context[statex.SlotOccasion] != "wedding" {
		t.Errorf("extracted slots not persisted: %v", saved.Context)
	}
	if len(saved.FoundItems) != 1 {
		t.Errorf("found items not persisted: %+v", saved.FoundItems)
	}
	if len(saved.History) != 2 {
		t.Errorf("history should hold one exchange, got %d entries", len(saved.History))
	}
}

func TestStoreOutageDegradesStateless(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		composeFn: func(contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			return contractx.ComposeResponse{Message: "Still here! What can I find for you?"}, nil
		},
	}
	store := newFakeStore()
	store.loadErr = errors.New("connection refused")
	o := newOrchestrator(t, store, registry, &fakeGateway{})

	reply, err := o.HandleMessage(context.Background(), input("show me dresses"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("stateless turn must still reply")
	}
	if store.saves != 0 {
		t.Errorf("stateless turn must not checkpoint, saves = %d", store.saves)
	}
}

func TestSaveFailureDoesNotEatReply(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{}
	store := newFakeStore()
	store.saveErr = statex.ErrTurnConflict
	o := newOrchestrator(t, store, registry, &fakeGateway{})

	reply, err := o.HandleMessage(context.Background(), input("hello there friend"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text == "" {
		t.Error("a save conflict must not suppress the reply")
	}
}

func TestEveryFailureStillReplies(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{
		extractFn: func(contractx.ExtractRequest) (statex.Context, error) {
			return nil, errors.New("extractor down")
		},
		decideFn: func(contractx.DecisionInput) (contractx.Decision, error) {
			return contractx.Decision{}, errors.New("router down")
		},
		composeFn: func(contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			return contractx.ComposeResponse{}, errors.New("responder down")
		},
	}
	store := newFakeStore()
	store.loadErr = errors.New("store down")
	o := newOrchestrator(t, store, registry, &fakeGateway{})

	reply, err := o.HandleMessage(context.Background(), input("anything"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Text != nodex.FallbackReply {
		t.Errorf("reply = %q, want the fallback", reply.Text)
	}
}

func TestFallbackTurnStillPersists(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	o := newOrchestrator(t, store, &fakeRegistry{}, &fakeGateway{})

	o.persistFallbackTurn(input("hello?"))

	st, err := store.Load(context.Background(), "b1:254712345678")
	if err != nil {
		t.Fatalf("load after fallback turn: %v", err)
	}
	if st.TurnIndex != 1 {
		t.Errorf("turn_index = %d, want 1", st.TurnIndex)
	}
	if len(st.History) != 2 || st.History[0].Text != "hello?" || st.History[1].Text != nodex.FallbackReply {
		t.Errorf("fallback exchange not recorded: %+v", st.History)
	}
	if st.LastReplyText != nodex.FallbackReply {
		t.Errorf("last reply = %q, want the fallback", st.LastReplyText)
	}

	// A second failed turn on the same thread keeps the counter moving.
	o.persistFallbackTurn(input("still there?"))
	st, err = store.Load(context.Background(), "b1:254712345678")
	if err != nil {
		t.Fatalf("load after second fallback turn: %v", err)
	}
	if st.TurnIndex != 2 || len(st.History) != 4 {
		t.Errorf("second fallback turn not recorded: turn=%d history=%d", st.TurnIndex, len(st.History))
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, newFakeStore(), &fakeRegistry{}, &fakeGateway{})

	if _, err := o.HandleMessage(context.Background(), input("")); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	in := input("hello")
	in.ThreadID = ""
	if _, err := o.HandleMessage(context.Background(), in); !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("expected ErrInvalidThread, got %v", err)
	}
}

func TestTurnIndexIncrementsAcrossTurns(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{}
	store := newFakeStore()
	o := newOrchestrator(t, store, registry, &fakeGateway{})

	for i := 1; i <= 3; i++ {
		if _, err := o.HandleMessage(context.Background(), input("message")); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if got := store.states["b1:254712345678"].TurnIndex; got != i {
			t.Fatalf("after turn %d: turn_index = %d", i, got)
		}
	}
}

func TestImageAlwaysRoutesToAnalysis(t *testing.T) {
	t.Parallel()

	routerCalled := false
	registry := &fakeRegistry{
		decideFn: func(contractx.DecisionInput) (contractx.Decision, error) {
			routerCalled = true
			return contractx.Decision{Action: contractx.ActionChat, Confidence: 0.5}, nil
		},
		analyzeFn: func(string) (contractx.ImageAnalysis, error) {
			return contractx.ImageAnalysis{Category: "dress", Color: "red", SearchQuery: "red dress"}, nil
		},
	}
	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"search_products": {Result: []toolx.ProductSummary{
			{ID: "p1", Name: "Red Maxi Dress", PriceKES: 3500},
		}},
	}}
	o := newOrchestrator(t, newFakeStore(), registry, gateway)

	in := input("")
	in.ImageURL = "https://img/photo.jpg"

	reply, err := o.HandleMessage(context.Background(), in)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if routerCalled {
		t.Error("an image turn must bypass the router")
	}
	if gateway.count("search_products") != 1 {
		t.Error("image analysis should chain into the catalog search")
	}
	if reply.Text == "" {
		t.Error("image turn must reply")
	}
}

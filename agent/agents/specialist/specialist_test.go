package specialist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/dukalink/dukalink/agent/contract"
	statex "github.com/dukalink/dukalink/agent/state"
	toolx "github.com/dukalink/dukalink/agent/tool"
)

type fakeGateway struct {
	calls   []contractx.ToolCall
	results map[string]contractx.ToolResult
}

func (f *fakeGateway) Execute(_ context.Context, call contractx.ToolCall, _ contractx.ToolContext) contractx.ToolResult {
	f.calls = append(f.calls, call)
	if res, ok := f.results[call.Tool]; ok {
		res.Tool = call.Tool
		return res
	}
	return contractx.ToolResult{Tool: call.Tool, Result: map[string]any{}}
}

func (f *fakeGateway) ExecuteAll(ctx context.Context, calls []contractx.ToolCall, tctx contractx.ToolContext) []contractx.ToolResult {
	var out []contractx.ToolResult
	for _, call := range calls {
		out = append(out, f.Execute(ctx, call, tctx))
	}
	return out
}

func (f *fakeGateway) called(tool string) bool {
	for _, call := range f.calls {
		if call.Tool == tool {
			return true
		}
	}
	return false
}

type fakeRegistry struct {
	composeFn func(contractx.ComposeRequest) (contractx.ComposeResponse, error)
	analyzeFn func(string) (contractx.ImageAnalysis, error)
}

func (f *fakeRegistry) Extractor() contractx.Extractor { return nil }
func (f *fakeRegistry) Router() contractx.Router       { return nil }

func (f *fakeRegistry) Responder() contractx.Responder { return responderFunc(f.composeFn) }
func (f *fakeRegistry) Vision() contractx.Vision       { return visionFunc(f.analyzeFn) }

type responderFunc func(contractx.ComposeRequest) (contractx.ComposeResponse, error)

func (fn responderFunc) Compose(_ context.Context, req contractx.ComposeRequest) (contractx.ComposeResponse, error) {
	if fn == nil {
		return contractx.ComposeResponse{}, errors.New("responder unavailable")
	}
	return fn(req)
}

type visionFunc func(string) (contractx.ImageAnalysis, error)

func (fn visionFunc) Analyze(_ context.Context, imageURL string) (contractx.ImageAnalysis, error) {
	if fn == nil {
		return contractx.ImageAnalysis{}, errors.New("vision unavailable")
	}
	return fn(imageURL)
}

func newTestState() *statex.ConversationState {
	st := statex.NewConversationState("b1:254712345678", "b1", "b1:254712345678", "254712345678", time.Now())
	st.BeginTurn(time.Now())
	return st
}

func newSet(t *testing.T, gateway *fakeGateway, registry *fakeRegistry) Set {
	t.Helper()
	set, err := NewSet(Deps{Registry: registry, Tools: gateway})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func TestCartAddWithoutSizeParksOnSizeSelection(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{}}
	set := newSet(t, gateway, &fakeRegistry{})

	st := newTestState()
	st.FoundItems = []statex.ProductRef{{ID: "p1", Name: "Red Maxi Dress", Price: 3500}}

	resp, err := set[statex.StepCartManagement].Handle(context.Background(), Request{
		State:       st,
		UserMessage: "I'll take the first one",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gateway.called("add_to_cart") {
		t.Error("add_to_cart must not run before a size is known")
	}
	if st.CurrentStep != statex.StepSizeSelection {
		t.Errorf("current step = %q, want size_selection", st.CurrentStep)
	}
	if !strings.Contains(strings.ToLower(resp.Reply), "size") {
		t.Errorf("reply should ask for the size, got %q", resp.Reply)
	}
	if st.SelectedProductID != "p1" {
		t.Errorf("selected product = %q, want p1", st.SelectedProductID)
	}
}

func TestSizeSelectionCompletesPendingAdd(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"add_to_cart": {Result: toolx.CartView{
			Lines:    []toolx.CartLineView{{ProductID: "p1", ProductName: "Red Maxi Dress", Size: "M", Quantity: 1, UnitPriceKES: 3500}},
			TotalKES: 3500,
		}},
	}}
	set := newSet(t, gateway, &fakeRegistry{})

	st := newTestState()
	st.SelectedProductID = "p1"

	resp, err := set[statex.StepSizeSelection].Handle(context.Background(), Request{
		State:       st,
		UserMessage: "medium please",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !gateway.called("add_to_cart") {
		t.Fatal("expected add_to_cart to run once the size is known")
	}
	if !strings.Contains(resp.Reply, "KES 3,500") {
		t.Errorf("reply should show the cart total, got %q", resp.Reply)
	}
	if st.SelectedProductID != "" || st.SelectedSize != "" {
		t.Error("pending selection should clear after a successful add")
	}
}

func TestCheckoutEmptyCartSkipsPayment(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"get_cart": {Result: toolx.CartView{}},
	}}
	set := newSet(t, gateway, &fakeRegistry{})

	resp, err := set[statex.StepCheckout].Handle(context.Background(), Request{
		State:       newTestState(),
		UserMessage: "checkout",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gateway.called("initiate_payment") {
		t.Error("initiate_payment must not run for an empty cart")
	}
	if !strings.Contains(strings.ToLower(resp.Reply), "empty") {
		t.Errorf("reply should say the cart is empty, got %q", resp.Reply)
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"get_cart": {Result: toolx.CartView{
			Lines:    []toolx.CartLineView{{ProductID: "p1", ProductName: "Red Maxi Dress", Size: "M", Quantity: 1, UnitPriceKES: 3500}},
			TotalKES: 3500,
		}},
		"initiate_payment": {Result: map[string]any{
			"order_reference": "ORD1700000000",
			"total_kes":       int64(3500),
		}},
	}}
	set := newSet(t, gateway, &fakeRegistry{})

	st := newTestState()
	st.MergeContext(statex.Context{statex.SlotProductType: "dress"})

	resp, err := set[statex.StepCheckout].Handle(context.Background(), Request{
		State:       st,
		UserMessage: "checkout",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(resp.Reply, "ORD1700000000") {
		t.Errorf("reply should carry the order reference, got %q", resp.Reply)
	}
	if st.CurrentStep != statex.StepPayment {
		t.Errorf("current step = %q, want payment", st.CurrentStep)
	}
	if st.Context.Has(statex.SlotProductType) {
		t.Error("gathered context should reset after checkout")
	}
}

func TestSearchNoResults(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"search_products": {Result: []toolx.ProductSummary{}},
	}}
	set := newSet(t, gateway, &fakeRegistry{})

	st := newTestState()
	st.MergeContext(statex.Context{statex.SlotProductType: "dress", statex.SlotColor: "red"})

	resp, err := set[statex.StepProductSearch].Handle(context.Background(), Request{State: st, UserMessage: "red dress"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Next != "" {
		t.Errorf("no-results search should not chain, got next=%q", resp.Next)
	}
	if !strings.Contains(resp.Reply, "red") {
		t.Errorf("no-results reply should echo the ask, got %q", resp.Reply)
	}
}

func TestSearchChainsIntoRecommendation(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{
		"search_products": {Result: []toolx.ProductSummary{
			{ID: "p1", Name: "Red Maxi Dress", PriceKES: 3500, Sizes: []string{"M", "S"}},
		}},
	}}
	set := newSet(t, gateway, &fakeRegistry{})

	st := newTestState()
	st.MergeContext(statex.Context{statex.SlotProductType: "dress", statex.SlotColor: "red", statex.SlotPriceRange: "under 5000"})

	resp, err := set[statex.StepProductSearch].Handle(context.Background(), Request{State: st, UserMessage: "red dress"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Next != statex.StepRecommendation {
		t.Errorf("next = %q, want recommendation", resp.Next)
	}
	if len(st.FoundItems) != 1 || st.FoundItems[0].ID != "p1" {
		t.Errorf("found items not recorded: %+v", st.FoundItems)
	}

	// The search passed the parsed budget cap through.
	for _, call := range gateway.calls {
		if call.Tool == "search_products" {
			if call.Args["max_price"] != int64(5000) {
				t.Errorf("max_price = %v, want 5000", call.Args["max_price"])
			}
		}
	}
}

func TestRecommendFallsBackToListing(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{}}
	registry := &fakeRegistry{
		composeFn: func(contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			return contractx.ComposeResponse{}, errors.New("model down")
		},
	}
	set := newSet(t, gateway, registry)

	st := newTestState()
	st.FoundItems = []statex.ProductRef{
		{ID: "p1", Name: "Red Maxi Dress", Price: 3500, Sizes: []string{"M"}, ImageURLs: []string{"https://img/p1.jpg"}},
	}

	resp, err := set[statex.StepRecommendation].Handle(context.Background(), Request{State: st, UserMessage: "show me"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(resp.Reply, "Red Maxi Dress") || !strings.Contains(resp.Reply, "KES 3,500") {
		t.Errorf("listing fallback should name product and price, got %q", resp.Reply)
	}
	if len(resp.Media) != 1 {
		t.Errorf("media = %v, want the product image", resp.Media)
	}
}

func TestImageAnalysisChainsIntoSearch(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{}}
	registry := &fakeRegistry{
		analyzeFn: func(string) (contractx.ImageAnalysis, error) {
			return contractx.ImageAnalysis{Category: "dress", Color: "red", Style: "maxi", SearchQuery: "red maxi dress"}, nil
		},
	}
	set := newSet(t, gateway, registry)

	st := newTestState()
	resp, err := set[statex.StepImageAnalysis].Handle(context.Background(), Request{
		State:    st,
		ImageURL: "https://img/photo.jpg",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Next != statex.StepProductSearch {
		t.Errorf("next = %q, want product_search", resp.Next)
	}
	if st.Context[statex.SlotColor] != "red" || st.Context[statex.SlotProductType] != "dress" {
		t.Errorf("vision attributes should merge into context, got %v", st.Context)
	}
}

func TestImageAnalysisFailureStaysGraceful(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{results: map[string]contractx.ToolResult{}}
	registry := &fakeRegistry{
		analyzeFn: func(string) (contractx.ImageAnalysis, error) {
			return contractx.ImageAnalysis{}, errors.New("vision timeout")
		},
	}
	set := newSet(t, gateway, registry)

	resp, err := set[statex.StepImageAnalysis].Handle(context.Background(), Request{
		State:    newTestState(),
		ImageURL: "https://img/photo.jpg",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Next != "" {
		t.Error("failed analysis must not chain")
	}
	if resp.Reply == "" {
		t.Error("failed analysis still needs a reply")
	}
}

func TestInquiryFiltersMutatingTools(t *testing.T) {
	t.Parallel()

	pass := 0
	gateway := &fakeGateway{results: map[string]contractx.ToolResult{}}
	registry := &fakeRegistry{
		composeFn: func(req contractx.ComposeRequest) (contractx.ComposeResponse, error) {
			pass++
			if pass == 1 {
				return contractx.ComposeResponse{ToolRequests: []contractx.ToolCall{
					{Tool: "get_order_status", Args: map[string]any{"order_reference": "ORD1"}},
					{Tool: "add_to_cart", Args: map[string]any{"product_id": "p1", "size": "M"}},
					{Tool: "get_order_status", Args: map[string]any{"order_reference": "ORD1"}},
				}}, nil
			}
			return contractx.ComposeResponse{Message: "Your order ORD1 is on the way."}, nil
		},
	}
	set := newSet(t, gateway, registry)

	resp, err := set[statex.StepGeneralInquiry].Handle(context.Background(), Request{
		State:       newTestState(),
		UserMessage: "where is my order?",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if gateway.called("add_to_cart") {
		t.Error("inquiry must never run mutating tools")
	}
	if len(gateway.calls) != 1 {
		t.Errorf("duplicate tool requests should collapse, got %d calls", len(gateway.calls))
	}
	if resp.Reply != "Your order ORD1 is on the way." {
		t.Errorf("unexpected reply %q", resp.Reply)
	}
}

func TestResolveSelection(t *testing.T) {
	t.Parallel()

	st := newTestState()
	st.FoundItems = []statex.ProductRef{
		{ID: "p1", Name: "Red Maxi Dress"},
		{ID: "p2", Name: "Ankara Top"},
		{ID: "p3", Name: "Denim Skirt"},
	}

	cases := map[string]string{
		"I'll take the first one": "p1",
		"number 2 looks nice":     "p2",
		"the ankara one":          "p2",
		"the last one":            "p3",
		"3":                       "p3",
	}
	for msg, want := range cases {
		picked := resolveSelection(st, msg)
		if picked == nil || picked.ID != want {
			t.Errorf("resolveSelection(%q) = %v, want %s", msg, picked, want)
		}
	}

	if picked := resolveSelection(st, "something else entirely"); picked != nil {
		t.Errorf("resolveSelection should return nil for no match, got %v", picked)
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"medium please": "M",
		"size L":        "L",
		"I wear XL":     "XL",
		"m":             "M",
		"a size 12":     "12",
		"no idea":       "",
	}
	for msg, want := range cases {
		if got := parseSize(msg); got != want {
			t.Errorf("parseSize(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestParseMaxPrice(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"under 3000":   3000,
		"3000-5000":    5000,
		"about 2,500":  2500,
		"cheap please": 0,
		"":             0,
	}
	for in, want := range cases {
		if got := parseMaxPrice(in); got != want {
			t.Errorf("parseMaxPrice(%q) = %d, want %d", in, got, want)
		}
	}
}

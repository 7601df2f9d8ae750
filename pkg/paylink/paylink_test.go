package paylink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeMSISDN(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+254712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "0712 345 678", want: "254712345678"},
		{in: "0112345678", want: "254112345678"},
		{in: "712345678", want: "254712345678"},
		{in: "12345", wantErr: true},
		{in: "call-me-maybe", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizeMSISDN(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeMSISDN(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeMSISDN(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeMSISDN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInitiateSTKPushMockMode(t *testing.T) {
	t.Parallel()

	client := MustNew(Config{BaseURL: "https://example.invalid"})

	res, err := client.InitiateSTKPush(context.Background(), "0712345678", 2500, "ORD1700000000")
	if err != nil {
		t.Fatalf("mock push failed: %v", err)
	}
	if res.Status != StatusPending {
		t.Errorf("expected pending status in mock mode, got %q", res.Status)
	}
	if res.CheckoutRequestID == "" {
		t.Error("expected a checkout request id in mock mode")
	}
}

func TestInitiateSTKPushRejectsBadInput(t *testing.T) {
	t.Parallel()

	client := MustNew(Config{BaseURL: "https://example.invalid"})

	if _, err := client.InitiateSTKPush(context.Background(), "not-a-phone", 100, "ORD1"); err == nil {
		t.Error("expected error for invalid phone")
	}
	if _, err := client.InitiateSTKPush(context.Background(), "0712345678", 0, "ORD1"); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestInitiateSTKPushLive(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/stk/push" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["phone"] != "254712345678" {
			t.Errorf("expected normalized phone, got %v", body["phone"])
		}

		json.NewEncoder(w).Encode(STKResult{
			CheckoutRequestID: "ws_CO_123",
			Status:            StatusPending,
			Message:           "accepted",
		})
	}))
	defer srv.Close()

	client := MustNew(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})

	res, err := client.InitiateSTKPush(context.Background(), "+254712345678", 1999, "ORD42")
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if res.CheckoutRequestID != "ws_CO_123" {
		t.Errorf("unexpected checkout id: %q", res.CheckoutRequestID)
	}
}

func TestCheckStatusLiveError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := MustNew(Config{BaseURL: srv.URL, APIKey: "test-key"})

	if _, err := client.CheckStatus(context.Background(), "ws_CO_123"); err == nil {
		t.Error("expected error on 502 response")
	}
}

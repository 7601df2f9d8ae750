// Package paylink is a thin client for the PayLink payment aggregator,
// used to fire M-Pesa STK pushes and poll their outcome.
package paylink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL string        `split_words:"true" default:"https://api.paylink.co.ke/v1"`
	APIKey  string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"15s"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// STKResult is the aggregator's answer to a push or status request.
type STKResult struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Status            string `json:"status"`
	Message           string `json:"message"`
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrPhoneInvalid = errors.New("paylink: phone number is not a valid kenyan msisdn")

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("paylink base url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// mock reports whether the client runs without credentials. In that mode
// every push succeeds immediately, which keeps local checkout flows usable
// without an aggregator account.
func (c *Client) mock() bool {
	return c.apiKey == ""
}

// InitiateSTKPush asks the customer's phone to confirm a payment of the
// given whole-shilling amount. Reference is the merchant order reference
// shown on the M-Pesa receipt.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amountKES int64, reference string) (STKResult, error) {
	msisdn, err := NormalizeMSISDN(phone)
	if err != nil {
		return STKResult{}, err
	}
	if amountKES <= 0 {
		return STKResult{}, fmt.Errorf("paylink: amount must be positive, got %d", amountKES)
	}

	if c.mock() {
		return STKResult{
			CheckoutRequestID: "mock-" + reference,
			Status:            StatusPending,
			Message:           "mock stk push accepted",
		}, nil
	}

	body := map[string]any{
		"phone":     msisdn,
		"amount":    amountKES,
		"reference": reference,
	}

	var out STKResult
	if err := c.do(ctx, http.MethodPost, "/stk/push", body, &out); err != nil {
		return STKResult{}, err
	}
	return out, nil
}

// CheckStatus polls a previously initiated push.
func (c *Client) CheckStatus(ctx context.Context, checkoutRequestID string) (STKResult, error) {
	id := strings.TrimSpace(checkoutRequestID)
	if id == "" {
		return STKResult{}, errors.New("paylink: checkout request id is required")
	}

	if c.mock() {
		return STKResult{
			CheckoutRequestID: id,
			Status:            StatusCompleted,
			Message:           "mock payment completed",
		}, nil
	}

	var out STKResult
	if err := c.do(ctx, http.MethodGet, "/stk/status/"+url.PathEscape(id), nil, &out); err != nil {
		return STKResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out *STKResult) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paylink: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paylink: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paylink: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paylink: %s %s returned status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paylink: decode response: %w", err)
	}

	return nil
}

// NormalizeMSISDN canonicalizes a Kenyan phone number to 2547XXXXXXXX /
// 2541XXXXXXXX form. Accepts "+254...", "254...", and local "07.../01..."
// input.
func NormalizeMSISDN(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == ' ' || r == '-' || r == '+' {
			return -1
		}
		return 'x'
	}, strings.TrimSpace(phone))

	if strings.ContainsRune(cleaned, 'x') {
		return "", ErrPhoneInvalid
	}

	switch {
	case strings.HasPrefix(cleaned, "254") && len(cleaned) == 12:
		return cleaned, nil
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		return "254" + cleaned[1:], nil
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		return "254" + cleaned, nil
	default:
		return "", ErrPhoneInvalid
	}
}

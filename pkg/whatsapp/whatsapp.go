// Package whatsapp sends outbound messages over the Twilio WhatsApp API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type Config struct {
	AccountSID string `split_words:"true" required:"true"`
	AuthToken  string `split_words:"true" required:"true"`
	FromNumber string `split_words:"true" required:"true"`
}

type Client struct {
	rest *twilio.RestClient
	from string
}

type Option func(*Client)

// WithRestClient injects a prebuilt Twilio client, mainly for tests.
func WithRestClient(rest *twilio.RestClient) Option {
	return func(c *Client) { c.rest = rest }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, errors.New("whatsapp: from number is required")
	}

	client := &Client{
		from: canonical(cfg.FromNumber),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.rest == nil {
		if cfg.AccountSID == "" || cfg.AuthToken == "" {
			return nil, errors.New("whatsapp: account sid and auth token are required")
		}
		client.rest = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
	}

	return client, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// Send delivers one message to a customer. Media URLs must be publicly
// reachable for Twilio to fetch them.
func (c *Client) Send(ctx context.Context, to, body string, mediaURLs []string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("whatsapp: recipient is required")
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(canonical(to))
	params.SetFrom(c.from)
	params.SetBody(body)
	if len(mediaURLs) > 0 {
		params.SetMediaUrl(mediaURLs)
	}

	if _, err := c.rest.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("whatsapp: send to %s: %w", to, err)
	}

	log.Debug().Str("to", to).Int("media", len(mediaURLs)).Msg("whatsapp message sent")
	return nil
}

// canonical prefixes the whatsapp: scheme Twilio expects, leaving already
// prefixed addresses untouched.
func canonical(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}

// Package server exposes the inbound WhatsApp webhook and health probe
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dukalink/dukalink/agent/agents/orchestrator"
	"github.com/dukalink/dukalink/agent/nodes"
	"github.com/dukalink/dukalink/pkg/paylink"
	"github.com/dukalink/dukalink/storage"
)

type Config struct {
	ListenAddr   string        `split_words:"true" default:":8080"`
	BoutiqueID   string        `split_words:"true" default:"default-boutique"`
	ReadTimeout  time.Duration `split_words:"true" default:"10s"`
	WriteTimeout time.Duration `split_words:"true" default:"90s"`
	ReleaseMode  bool          `split_words:"true" default:"true"`
}

// Directory is the slice of the relational store the webhook needs:
// customer resolution and the durable message transcript.
type Directory interface {
	GetOrCreateCustomer(ctx context.Context, boutiqueID, phone, name string) (*storage.Customer, error)
	AppendMessage(ctx context.Context, msg *storage.Message) error
}

// Messenger sends the reply back out on the channel.
type Messenger interface {
	Send(ctx context.Context, to, body string, mediaURLs []string) error
}

// TurnHandler runs one conversation turn end to end.
type TurnHandler interface {
	HandleMessage(ctx context.Context, in nodes.GraphInput) (orchestrator.Reply, error)
}

type Server struct {
	engine       *gin.Engine
	orchestrator TurnHandler
	messenger    Messenger
	directory    Directory
	boutiqueID   string
	listenAddr   string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func New(cfg Config, orch TurnHandler, messenger Messenger, directory Directory) (*Server, error) {
	if orch == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	if messenger == nil {
		return nil, errors.New("server: messenger is required")
	}

	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		orchestrator: orch,
		messenger:    messenger,
		directory:    directory,
		boutiqueID:   strings.TrimSpace(cfg.BoutiqueID),
		listenAddr:   cfg.ListenAddr,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/webhook/whatsapp", s.handleWhatsAppWebhook)
	s.engine = engine

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.engine,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	log.Info().Str("addr", s.listenAddr).Msg("http server listening")
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// inboundMessage is the normalized shape of one inbound webhook post,
// accepted both as a Twilio form body and as JSON with the same field
// names.
type inboundMessage struct {
	From        string `form:"From" json:"From"`
	ProfileName string `form:"ProfileName" json:"ProfileName"`
	Body        string `form:"Body" json:"Body"`
	MediaURL    string `form:"MediaUrl0" json:"MediaUrl0"`
}

// handleWhatsAppWebhook processes one inbound message. It answers 200 in
// every case: Twilio retries non-2xx responses, and a retried turn would
// double-charge carts and payments.
func (s *Server) handleWhatsAppWebhook(c *gin.Context) {
	var msg inboundMessage
	if err := c.ShouldBind(&msg); err != nil {
		log.Warn().Err(err).Msg("webhook body unreadable, dropping")
		c.String(http.StatusOK, "")
		return
	}
	msg.From = strings.TrimPrefix(msg.From, "whatsapp:")

	phone, err := paylink.NormalizeMSISDN(msg.From)
	if err != nil {
		log.Warn().Str("from", msg.From).Msg("webhook from unparseable sender, dropping")
		c.String(http.StatusOK, "")
		return
	}

	ctx := c.Request.Context()
	customerID := s.boutiqueID + ":" + phone
	if s.directory != nil {
		if customer, derr := s.directory.GetOrCreateCustomer(ctx, s.boutiqueID, phone, msg.ProfileName); derr != nil {
			log.Warn().Err(derr).Msg("customer lookup failed, continuing with derived id")
		} else {
			customerID = customer.ID
		}
	}

	threadID := s.boutiqueID + ":" + phone
	s.recordTranscript(ctx, threadID, "user", msg.Body, msg.MediaURL)

	reply, err := s.orchestrator.HandleMessage(ctx, nodes.GraphInput{
		ThreadID:       threadID,
		BoutiqueID:     s.boutiqueID,
		CustomerID:     customerID,
		ChannelAddress: phone,
		CustomerName:   msg.ProfileName,
		Text:           msg.Body,
		ImageURL:       msg.MediaURL,
	})
	if err != nil {
		// Only input validation surfaces here; nothing to reply to.
		log.Warn().Err(err).Str("thread_id", threadID).Msg("webhook message rejected")
		c.String(http.StatusOK, "")
		return
	}

	if serr := s.messenger.Send(ctx, phone, reply.Text, reply.Media); serr != nil {
		log.Error().Err(serr).Str("thread_id", threadID).Msg("outbound send failed")
	} else {
		s.recordTranscript(ctx, threadID, "agent", reply.Text, firstOrEmpty(reply.Media))
	}

	c.String(http.StatusOK, "")
}

// recordTranscript is best effort; the transcript is an audit trail, not
// a dependency of the turn.
func (s *Server) recordTranscript(ctx context.Context, threadID, role, body, mediaURL string) {
	if s.directory == nil {
		return
	}
	err := s.directory.AppendMessage(ctx, &storage.Message{
		ThreadID: threadID,
		Role:     role,
		Body:     body,
		MediaURL: mediaURL,
	})
	if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("transcript append failed")
	}
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

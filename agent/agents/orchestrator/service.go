// Package orchestrator owns the turn lifecycle: it serializes turns per
// thread, runs the message graph, and guarantees that every inbound
// message gets exactly one reply.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	specialistx "github.com/dukalink/dukalink/agent/agents/specialist"
	contractx "github.com/dukalink/dukalink/agent/contract"
	nodex "github.com/dukalink/dukalink/agent/nodes"
	statex "github.com/dukalink/dukalink/agent/state"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidThread  = nodex.ErrInvalidThread
)

type Config struct {
	// TurnTimeout caps one turn end to end, model calls included.
	TurnTimeout time.Duration

	Policy nodex.Policy
}

// Reply is the outcome of one handled message.
type Reply struct {
	Text  string
	Media []string
}

type Orchestrator struct {
	store    statex.Store
	models   contractx.Registry
	handlers specialistx.Set
	policy   nodex.Policy

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	turnTimeout time.Duration

	// threadLocks serializes turns per thread. A second message from the
	// same customer queues behind the turn in flight instead of racing it.
	threadLocks sync.Map

	now func() time.Time
}

func New(
	store statex.Store,
	models contractx.Registry,
	handlers specialistx.Set,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if models == nil {
		return nil, errors.New("model registry is required")
	}
	if len(handlers) == 0 {
		return nil, errors.New("specialist handlers are required")
	}

	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	policy := cfg.Policy
	if policy == (nodex.Policy{}) {
		policy = nodex.DefaultPolicy()
	}

	o := &Orchestrator{
		store:       store,
		models:      models,
		handlers:    handlers,
		policy:      policy,
		turnTimeout: timeout,
		now:         time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one turn. Input errors surface to the caller; every
// downstream failure is absorbed into a fallback reply, because on this
// channel an error page does not exist.
func (o *Orchestrator) HandleMessage(ctx context.Context, in nodex.GraphInput) (Reply, error) {
	unlock := o.lockThread(in.ThreadID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	out, err := o.graphRunner.Invoke(ctx, in)
	if err != nil {
		if errors.Is(err, nodex.ErrInvalidMessage) || errors.Is(err, nodex.ErrInvalidThread) {
			return Reply{}, err
		}
		log.Error().Err(err).Str("thread_id", in.ThreadID).Msg("turn failed, sending fallback reply")
		o.persistFallbackTurn(in)
		return Reply{Text: nodex.FallbackReply}, nil
	}

	return Reply{Text: out.Reply, Media: out.Media}, nil
}

// persistFallbackTurn records the fallback exchange when the graph
// itself failed, so the customer's message still lands in history. The
// turn context is usually already dead here, so it runs on its own
// short deadline; failures only log.
func (o *Orchestrator) persistFallbackTurn(in nodex.GraphInput) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := o.store.Load(ctx, in.ThreadID)
	if errors.Is(err, statex.ErrStateNotFound) {
		st = statex.NewConversationState(in.ThreadID, in.BoutiqueID, in.CustomerID, in.ChannelAddress, o.now())
	} else if err != nil {
		log.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("fallback turn not persisted, state load failed")
		return
	}

	st.BeginTurn(o.now())
	text := in.Text
	if text == "" && in.ImageURL != "" {
		text = "[photo]"
	}
	st.AppendExchange(text, nodex.FallbackReply)
	st.LastReplyText = nodex.FallbackReply

	if err := o.store.Save(ctx, st); err != nil && !errors.Is(err, statex.ErrTurnConflict) {
		log.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("fallback turn not persisted")
	}
}

func (o *Orchestrator) lockThread(threadID string) func() {
	value, _ := o.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Package bridge passes discrete request/response messages between isolated
// execution contexts. Contexts never share memory; the bridge and the durable
// store are their only legal communication channels.
//
// Delivery is not guaranteed. A send that times out or reaches a context with
// no handler yields a no-reply response, which callers must treat as a valid,
// non-exceptional outcome.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/promptlift/clientcore/pkg/logger"
)

// Message is one request passed between contexts.
type Message struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is the reply to a Message. NoReply is set when the target context
// did not answer within the bounded timeout; that is not an error.
type Response struct {
	OK      bool            `json:"ok"`
	NoReply bool            `json:"no_reply,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Transport delivers a message to a named context and returns its reply.
// Implementations must honor ctx cancellation.
type Transport interface {
	Deliver(ctx context.Context, contextID string, msg Message) (Response, error)
}

// Bridge wraps a Transport with a bounded response timeout and a send rate
// limit.
type Bridge struct {
	transport Transport
	timeout   time.Duration
	limiter   *rate.Limiter
	log       *logger.Logger
}

// New creates a bridge over the given transport. A zero timeout defaults to
// three seconds. ratePerSecond <= 0 disables the limiter.
func New(transport Transport, timeout time.Duration, ratePerSecond float64, burst int, log *logger.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("bridge")
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &Bridge{
		transport: transport,
		timeout:   timeout,
		limiter:   limiter,
		log:       log,
	}
}

// Send delivers msg to the named context and waits up to the bounded timeout
// for a reply. A missing reply comes back as Response{NoReply: true} with a
// nil error.
func (b *Bridge) Send(ctx context.Context, contextID string, msg Message) (Response, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Response{NoReply: true}, nil
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.transport.Deliver(sendCtx, contextID, msg)
	if err != nil {
		b.log.WithError(err).
			WithField("context_id", contextID).
			WithField("action", msg.Action).
			Debug("bridge delivery failed; treating as no reply")
		return Response{NoReply: true}, nil
	}
	return resp, nil
}

// Handler processes one inbound message for a context.
type Handler func(ctx context.Context, msg Message) Response

// Local is an in-process Transport connecting contexts that live in the same
// process. Each context registers a handler under its context ID.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocal creates an empty in-process transport.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

// Register installs the handler for a context ID, replacing any previous one.
// It returns a deregistration function.
func (l *Local) Register(contextID string, handler Handler) func() {
	l.mu.Lock()
	l.handlers[contextID] = handler
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, contextID)
	}
}

// Deliver invokes the registered handler for contextID. An unregistered
// context never answers, so the reply is NoReply rather than an error.
func (l *Local) Deliver(ctx context.Context, contextID string, msg Message) (Response, error) {
	l.mu.RLock()
	handler, ok := l.handlers[contextID]
	l.mu.RUnlock()

	if !ok {
		return Response{NoReply: true}, nil
	}

	done := make(chan Response, 1)
	go func() {
		done <- handler(ctx, msg)
	}()

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return Response{NoReply: true}, nil
	}
}

// OKResponse builds a success reply carrying the given payload.
func OKResponse(payload interface{}) Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return Response{OK: false, Err: "marshal response payload"}
	}
	return Response{OK: true, Data: data}
}

// ErrResponse builds a failure reply.
func ErrResponse(message string) Response {
	return Response{OK: false, Err: message}
}

package session

import (
	"context"

	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// Outcome tells the connection loop what to do after a handler runs.
type Outcome int

const (
	Continue Outcome = iota
	Disconnect
)

// Handler processes one Request within sess's context and returns the
// Response to send plus whether the connection should continue.
type Handler func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome)

// Dispatcher routes an inbound Request to the Handler registered for its
// Kind. Kinds with no registered handler, or disallowed in the session's
// current ConversationState, yield ErrorProtocolViolation per spec.md
// §4.6's "any -- <unknown message kind> --> PROTOCOL_VIOLATION".
type Dispatcher struct {
	handlers map[transport.Kind]registeredHandler
}

type registeredHandler struct {
	handler       Handler
	allowedStates map[ConversationState]bool
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[transport.Kind]registeredHandler)}
}

// Register binds kind to handler, allowed only when the session is in one
// of allowedStates.
func (d *Dispatcher) Register(kind transport.Kind, handler Handler, allowedStates ...ConversationState) {
	allowed := make(map[ConversationState]bool, len(allowedStates))
	for _, s := range allowedStates {
		allowed[s] = true
	}
	d.handlers[kind] = registeredHandler{handler: handler, allowedStates: allowed}
}

// Dispatch routes req against sess's current state.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
	rh, ok := d.handlers[req.Kind]
	if !ok {
		return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
	}
	if !rh.allowedStates[sess.State()] {
		return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
	}
	return rh.handler(ctx, sess, req)
}

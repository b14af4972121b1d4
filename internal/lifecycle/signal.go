// Package lifecycle provides the process-wide shutdown signal and the
// component Init/Shutdown contract (C1) shared by every other component.
// Ordering and rollback-on-failure across components is done by
// Supervisor, which starts components in registration order and, on
// the first Init failure, stops the already-started ones in reverse
// order. Register adapts a Component to a go.uber.org/fx lifecycle with
// idempotency guards so a misbehaving caller invoking Init or Shutdown
// twice cannot corrupt state.
package lifecycle

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// Signal is a cancellable shutdown observable. The zero value is not usable;
// construct one with New or derive one with Child. Cancelling a Signal
// cancels every Signal derived from it via Child, but never its parent —
// this gives the (process, component, session) composition the design
// notes call for.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a root (process-level) shutdown Signal.
func New() Signal {
	ctx, cancel := context.WithCancel(context.Background())
	return Signal{ctx: ctx, cancel: cancel}
}

// Child derives a component- or session-scoped Signal from s. Cancelling
// the parent cancels the child; cancelling the child has no effect on the
// parent.
func (s Signal) Child() Signal {
	ctx, cancel := context.WithCancel(s.ctx)
	return Signal{ctx: ctx, cancel: cancel}
}

// Done returns a channel closed when this Signal (or an ancestor) is
// cancelled.
func (s Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Cancelled reports whether the signal has already fired.
func (s Signal) Cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Cancel fires this Signal and every Signal derived from it.
func (s Signal) Cancel() {
	s.cancel()
}

// Context returns a context.Context bound to this Signal's lifetime, for
// passing into suspending stdlib/third-party APIs (net, database, file I/O).
func (s Signal) Context() context.Context {
	return s.ctx
}

// Component is the contract every C2-C10 component implements: Init is
// called at most once during startup, in a fixed, Supervisor-determined order;
// Shutdown is called at most once, in reverse order, and only for
// components whose Init succeeded.
type Component interface {
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// guarded wraps a Component with idempotency flags so double-invocation
// (the fx contract promises this won't happen, but Register does not trust
// callers blindly) is a safe no-op rather than a double-init bug.
type guarded struct {
	inner   Component
	started atomic.Bool
	stopped atomic.Bool
}

func (g *guarded) Init(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return nil
	}
	return g.inner.Init(ctx)
}

func (g *guarded) Shutdown(ctx context.Context) error {
	if !g.started.Load() {
		return nil
	}
	if !g.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Wrap(g.inner.Shutdown(ctx), "lifecycle: component shutdown")
}

// Register appends c's Init/Shutdown to the fx lifecycle as an OnStart/
// OnStop hook pair, guarded for idempotency. Components should call this
// once from their fx constructor.
func Register(lc fx.Lifecycle, c Component) {
	g := &guarded{inner: c}
	lc.Append(fx.Hook{
		OnStart: g.Init,
		OnStop:  g.Shutdown,
	})
}

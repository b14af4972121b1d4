package lifecycle

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// entry pairs a Component with the name used in error messages and logs.
type entry struct {
	name string
	comp Component
}

// Supervisor drives the fixed-order Init/Shutdown sequence across C2-C10:
// components are started in registration order; the first failure stops
// every already-started component in reverse order and the failure is
// returned to the caller. Start is safe to call only once. Stop tolerates
// a partially-started Supervisor (e.g. after a failed Start), only tears
// down what actually came up, and a repeated Stop tears down nothing.
type Supervisor struct {
	entries []entry
	started []entry
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a component under name, in the order it must be started.
func (s *Supervisor) Add(name string, c Component) {
	s.entries = append(s.entries, entry{name: name, comp: c})
}

// Start initializes every registered component in order. On the first
// error it unwinds (reverse-order Shutdown) the components that had
// already started and returns the original error, wrapped with the
// offending component's name.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, e := range s.entries {
		if err := e.comp.Init(ctx); err != nil {
			startErr := errors.Wrapf(err, "lifecycle: init %s failed", e.name)
			if stopErr := s.Stop(ctx); stopErr != nil {
				return multierr.Append(startErr, stopErr)
			}
			return startErr
		}
		s.started = append(s.started, e)
	}
	return nil
}

// Stop shuts down every started component in reverse order, aggregating
// all errors rather than stopping at the first one so a single stuck
// component cannot prevent the rest from releasing their resources.
func (s *Supervisor) Stop(ctx context.Context) error {
	var err error
	for i := len(s.started) - 1; i >= 0; i-- {
		e := s.started[i]
		if stopErr := e.comp.Shutdown(ctx); stopErr != nil {
			err = multierr.Append(err, errors.Wrapf(stopErr, "lifecycle: shutdown %s failed", e.name))
		}
	}
	s.started = nil
	return err
}

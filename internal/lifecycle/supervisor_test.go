package lifecycle

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	initErr     error
	shutdownErr error
	initCalls   int
	stopCalls   int
}

func (f *fakeComponent) Init(context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeComponent) Shutdown(context.Context) error {
	f.stopCalls++
	return f.shutdownErr
}

func TestSupervisorStartsInOrder(t *testing.T) {
	var order []string
	mk := func(name string) *fakeComponent {
		return &fakeComponent{}
	}
	a, b, c := mk("a"), mk("b"), mk("c")

	sup := NewSupervisor()
	sup.Add("a", recordingComponent{a, &order, "a"})
	sup.Add("b", recordingComponent{b, &order, "b"})
	sup.Add("c", recordingComponent{c, &order, "c"})

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

type recordingComponent struct {
	*fakeComponent
	order *[]string
	name  string
}

func (r recordingComponent) Init(ctx context.Context) error {
	*r.order = append(*r.order, r.name)
	return r.fakeComponent.Init(ctx)
}

func TestSupervisorRollsBackOnFailure(t *testing.T) {
	a := &fakeComponent{}
	b := &fakeComponent{}
	c := &fakeComponent{initErr: errors.New("boom")}

	sup := NewSupervisor()
	sup.Add("a", a)
	sup.Add("b", b)
	sup.Add("c", c)

	err := sup.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, a.stopCalls)
	assert.Equal(t, 1, b.stopCalls)
	assert.Equal(t, 0, c.stopCalls, "failed component's own Shutdown is never called")
}

func TestSupervisorStopReportsErrorsAndIsIdempotent(t *testing.T) {
	a := &fakeComponent{shutdownErr: errors.New("a failed to stop")}
	b := &fakeComponent{}

	sup := NewSupervisor()
	sup.Add("a", a)
	sup.Add("b", b)
	require.NoError(t, sup.Start(context.Background()))

	err := sup.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed to stop")

	// idempotent: a second Stop tears down nothing further.
	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, 1, a.stopCalls)
	assert.Equal(t, 1, b.stopCalls)
}

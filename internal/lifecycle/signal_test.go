package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestChildCancelledByParent(t *testing.T) {
	root := New()
	child := root.Child()

	root.Cancel()

	select {
	case <-child.Done():
	default:
		t.Fatal("expected child to observe parent cancellation")
	}
	assert.True(t, child.Cancelled())
}

func TestChildCancelDoesNotAffectParent(t *testing.T) {
	root := New()
	child := root.Child()

	child.Cancel()

	assert.True(t, child.Cancelled())
	assert.False(t, root.Cancelled())
}

type countingComponent struct {
	inits     int
	shutdowns int
}

func (c *countingComponent) Init(context.Context) error {
	c.inits++
	return nil
}

func (c *countingComponent) Shutdown(context.Context) error {
	c.shutdowns++
	return nil
}

func TestRegisterIsIdempotent(t *testing.T) {
	cc := &countingComponent{}
	g := &guarded{inner: cc}

	require.NoError(t, g.Init(context.Background()))
	require.NoError(t, g.Init(context.Background()))
	require.NoError(t, g.Shutdown(context.Background()))
	require.NoError(t, g.Shutdown(context.Background()))

	assert.Equal(t, 1, cc.inits)
	assert.Equal(t, 1, cc.shutdowns)
}

func TestRegisterWiresFxHooks(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cc := &countingComponent{}
	Register(lc, cc)

	require.NoError(t, lc.Start(context.Background()))
	assert.Equal(t, 1, cc.inits)

	require.NoError(t, lc.Stop(context.Background()))
	assert.Equal(t, 1, cc.shutdowns)
}

package neighborhood

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

type fakeActionStore struct {
	mu                 sync.Mutex
	actions            []store.NeighborhoodAction
	deleted            []uint64
	rescheduled        map[uint64]time.Time
	outstandingRefresh  int
	evicted            []identity.NetworkID
	cascaded           []identity.NetworkID
}

func newFakeActionStore(actions ...store.NeighborhoodAction) *fakeActionStore {
	return &fakeActionStore{actions: actions, rescheduled: make(map[uint64]time.Time)}
}

func (f *fakeActionStore) ListReadyActions(ctx context.Context, now time.Time, limit int) ([]store.NeighborhoodAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.NeighborhoodAction(nil), f.actions...), nil
}

func (f *fakeActionStore) DeleteAction(ctx context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeActionStore) RescheduleAction(ctx context.Context, id uint64, executeAfter time.Time, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled[id] = executeAfter
	return nil
}

func (f *fakeActionStore) ListInitializedHostedIdentities(ctx context.Context) ([]store.HostedIdentity, error) {
	return nil, nil
}

func (f *fakeActionStore) CountOutstandingRefreshActions(ctx context.Context, follower identity.NetworkID) (int, error) {
	return f.outstandingRefresh, nil
}

func (f *fakeActionStore) EvictFollower(ctx context.Context, follower identity.NetworkID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, follower)
	return nil
}

func (f *fakeActionStore) RemoveNeighborCascade(ctx context.Context, neighbor identity.NetworkID, keepActionID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cascaded = append(f.cascaded, neighbor)
	return nil
}

type fakeLookup struct{}

func (fakeLookup) Resolve(ctx context.Context, serverID identity.NetworkID) (NeighborView, error) {
	return NeighborView{NetworkID: serverID}, nil
}

type fakeClient struct {
	shareErr error
	shared   []store.NeighborhoodAction
}

func (c *fakeClient) InitializeProfiles(ctx context.Context, target NeighborView, profiles []HostedProfile) error {
	return nil
}
func (c *fakeClient) ShareProfileUpdate(ctx context.Context, target NeighborView, action store.NeighborhoodAction) error {
	c.shared = append(c.shared, action)
	return c.shareErr
}
func (c *fakeClient) RefreshLiveness(ctx context.Context, target NeighborView) error { return nil }
func (c *fakeClient) NotifyStopUpdates(ctx context.Context, target NeighborView) error { return nil }

func idWith(b byte) identity.NetworkID {
	var id identity.NetworkID
	id[0] = b
	return id
}

func TestPollDeletesActionOnSuccess(t *testing.T) {
	server := idWith(0x01)
	action := store.NeighborhoodAction{ID: 1, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now()}
	s := newFakeActionStore(action)
	client := &fakeClient{}

	p := NewProcessor(s, fakeLookup{}, client, 4, zap.NewNop())
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []uint64{1}, s.deleted)
	assert.Len(t, client.shared, 1)
}

func TestPollReschedulesOnTransientFailure(t *testing.T) {
	server := idWith(0x02)
	action := store.NeighborhoodAction{ID: 2, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now()}
	s := newFakeActionStore(action)
	client := &fakeClient{shareErr: &TransientError{Reason: "peer busy"}}

	p := NewProcessor(s, fakeLookup{}, client, 4, zap.NewNop())
	require.NoError(t, p.Poll(context.Background()))

	assert.Empty(t, s.deleted)
	assert.Contains(t, s.rescheduled, uint64(2))
}

func TestPollDeletesActionOnReject(t *testing.T) {
	server := idWith(0x03)
	action := store.NeighborhoodAction{ID: 3, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now()}
	s := newFakeActionStore(action)
	client := &fakeClient{shareErr: &RejectError{Reason: "not found"}}

	p := NewProcessor(s, fakeLookup{}, client, 4, zap.NewNop())
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []uint64{3}, s.deleted)
}

func TestPollEvictsFollowerAfterThreeRefreshStrikes(t *testing.T) {
	server := idWith(0x04)
	action := store.NeighborhoodAction{ID: 4, ServerID: server, Type: store.ActionRefreshProfiles, Timestamp: time.Now()}
	s := newFakeActionStore(action)
	s.outstandingRefresh = 3

	refreshClient := &refreshFailingClient{err: &TransientError{Reason: "timeout"}}
	p := NewProcessor(s, fakeLookup{}, refreshClient, 4, zap.NewNop())
	require.NoError(t, p.Poll(context.Background()))

	require.Len(t, s.evicted, 1)
	assert.Equal(t, server, s.evicted[0])
}

type refreshFailingClient struct {
	fakeClient
	err error
}

func (c *refreshFailingClient) RefreshLiveness(ctx context.Context, target NeighborView) error {
	return c.err
}

func TestPollSkipsActionsForAlreadyInFlightTarget(t *testing.T) {
	server := idWith(0x05)
	a1 := store.NeighborhoodAction{ID: 5, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now()}
	a2 := store.NeighborhoodAction{ID: 6, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now()}
	s := newFakeActionStore(a1, a2)
	client := &fakeClient{}

	p := NewProcessor(s, fakeLookup{}, client, 4, zap.NewNop())
	// pre-mark the target as in-flight to simulate an overlapping poll.
	p.inFlight[keyFor(a1)] = true

	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, s.deleted, "both actions share a target key, so neither should run while it's marked in-flight")
}

func TestRetryWithBackoffEscalatesWithAttemptCount(t *testing.T) {
	server := idWith(0x08)
	first := store.NeighborhoodAction{ID: 9, ServerID: server, Type: store.ActionChangeProfile, Timestamp: time.Now(), Attempt: 0}
	later := first
	later.ID = 10
	later.Attempt = 5

	s := newFakeActionStore()
	p := NewProcessor(s, fakeLookup{}, &fakeClient{}, 1, zap.NewNop())

	before := time.Now()
	p.retryWithBackoff(context.Background(), first, assert.AnError)
	firstDelay := s.rescheduled[first.ID].Sub(before)

	p.retryWithBackoff(context.Background(), later, assert.AnError)
	laterDelay := s.rescheduled[later.ID].Sub(before)

	assert.Greater(t, laterDelay, firstDelay, "an action with a higher attempt count must be scheduled further out")
}

func TestRemoveNeighborIsLocalOnly(t *testing.T) {
	server := idWith(0x06)
	action := store.NeighborhoodAction{ID: 7, ServerID: server, Type: store.ActionRemoveNeighbor, Timestamp: time.Now()}
	s := newFakeActionStore(action)
	client := &fakeClient{}

	p := NewProcessor(s, fakeLookup{}, client, 4, zap.NewNop())
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []identity.NetworkID{server}, s.cascaded)
	assert.Empty(t, client.shared)
}

package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/images"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

type fakeStore struct {
	followers  []store.Follower
	hosted     []store.HostedIdentity
	neighbors  []store.Neighbor

	inserted   []store.NeighborhoodAction
	evicted    []identity.NetworkID
	deletedIDs []identity.NetworkID

	outstandingRefresh map[identity.NetworkID]int
	pendingForTarget   map[identity.NetworkID][]store.NeighborhoodAction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		outstandingRefresh: make(map[identity.NetworkID]int),
		pendingForTarget:   make(map[identity.NetworkID][]store.NeighborhoodAction),
	}
}

func (f *fakeStore) ListFollowers(ctx context.Context) ([]store.Follower, error) { return f.followers, nil }
func (f *fakeStore) InsertAction(ctx context.Context, a store.NeighborhoodAction) (uint64, error) {
	f.inserted = append(f.inserted, a)
	return uint64(len(f.inserted)), nil
}
func (f *fakeStore) ListActionsForTarget(ctx context.Context, target identity.NetworkID) ([]store.NeighborhoodAction, error) {
	return f.pendingForTarget[target], nil
}
func (f *fakeStore) CountOutstandingRefreshActions(ctx context.Context, follower identity.NetworkID) (int, error) {
	return f.outstandingRefresh[follower], nil
}
func (f *fakeStore) EvictFollower(ctx context.Context, follower identity.NetworkID) error {
	f.evicted = append(f.evicted, follower)
	return nil
}
func (f *fakeStore) ListHostedIdentities(ctx context.Context) ([]store.HostedIdentity, error) {
	return f.hosted, nil
}
func (f *fakeStore) DeleteHostedIdentity(ctx context.Context, id identity.NetworkID) error {
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}
func (f *fakeStore) ListNeighbors(ctx context.Context) ([]store.Neighbor, error) { return f.neighbors, nil }

type fakeImageCollector struct {
	removed []images.Hash
	gcCalls int
}

func (f *fakeImageCollector) RemoveReference(h images.Hash) int {
	f.removed = append(f.removed, h)
	return 0
}
func (f *fakeImageCollector) GC(ctx context.Context) int {
	f.gcCalls++
	return 0
}

type fakeLoc struct {
	inSync      bool
	neighborhood []LocNeighbor
	err         error
}

func (f *fakeLoc) InSync(ctx context.Context) (bool, error) { return f.inSync, f.err }
func (f *fakeLoc) Neighborhood(ctx context.Context) ([]LocNeighbor, error) {
	return f.neighborhood, f.err
}

func idWith(b byte) identity.NetworkID {
	var id identity.NetworkID
	id[0] = b
	return id
}

func TestCheckFollowersRefreshInsertsActionForStaleFollower(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	s := newFakeStore()
	s.followers = []store.Follower{{NetworkID: idWith(1), LastRefreshTime: &stale}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckFollowersRefresh(context.Background()))

	require.Len(t, s.inserted, 1)
	assert.Equal(t, store.ActionRefreshProfiles, s.inserted[0].Type)
}

func TestCheckFollowersRefreshSkipsFreshFollower(t *testing.T) {
	fresh := time.Now()
	s := newFakeStore()
	s.followers = []store.Follower{{NetworkID: idWith(1), LastRefreshTime: &fresh}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckFollowersRefresh(context.Background()))

	assert.Empty(t, s.inserted)
}

func TestCheckFollowersRefreshEvictsAfterThreeStrikes(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	follower := idWith(2)
	s := newFakeStore()
	s.followers = []store.Follower{{NetworkID: follower, LastRefreshTime: &stale}}
	s.outstandingRefresh[follower] = 3

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckFollowersRefresh(context.Background()))

	assert.Empty(t, s.inserted)
	require.Len(t, s.evicted, 1)
	assert.Equal(t, follower, s.evicted[0])
}

func TestCheckExpiredHostedIdentitiesDeletesAndReleasesImages(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	hash := make([]byte, 32)
	hash[0] = 0xAB
	s := newFakeStore()
	s.hosted = []store.HostedIdentity{{NetworkID: idWith(3), ExpirationDate: &past, ProfileImage: hash}}

	images := &fakeImageCollector{}
	tasks := NewTasks(s, images, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckExpiredHostedIdentities(context.Background()))

	assert.Len(t, s.deletedIDs, 1)
	assert.Len(t, images.removed, 1)
}

func TestCheckExpiredHostedIdentitiesSkipsActiveIdentity(t *testing.T) {
	future := time.Now().Add(time.Hour)
	s := newFakeStore()
	s.hosted = []store.HostedIdentity{{NetworkID: idWith(3), ExpirationDate: &future}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckExpiredHostedIdentities(context.Background()))

	assert.Empty(t, s.deletedIDs)
}

func TestCheckExpiredNeighborsSkipsWhenLocOutOfSync(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	s := newFakeStore()
	s.neighbors = []store.Neighbor{{NetworkID: idWith(4), LastRefreshTime: &stale}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{inSync: false}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckExpiredNeighbors(context.Background()))

	assert.Empty(t, s.inserted)
}

func TestCheckExpiredNeighborsQueuesRemoveWhenInSyncAndStale(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	neighbor := idWith(4)
	s := newFakeStore()
	s.neighbors = []store.Neighbor{{NetworkID: neighbor, LastRefreshTime: &stale}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{inSync: true}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckExpiredNeighbors(context.Background()))

	require.Len(t, s.inserted, 1)
	assert.Equal(t, store.ActionRemoveNeighbor, s.inserted[0].Type)
}

func TestCheckExpiredNeighborsSkipsWhenRemoveAlreadyPending(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	neighbor := idWith(4)
	s := newFakeStore()
	s.neighbors = []store.Neighbor{{NetworkID: neighbor, LastRefreshTime: &stale}}
	s.pendingForTarget[neighbor] = []store.NeighborhoodAction{{Type: store.ActionRemoveNeighbor}}

	tasks := NewTasks(s, &fakeImageCollector{}, &fakeLoc{inSync: true}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.CheckExpiredNeighbors(context.Background()))

	assert.Empty(t, s.inserted)
}

func TestDeleteUnusedImagesCallsGC(t *testing.T) {
	images := &fakeImageCollector{}
	tasks := NewTasks(newFakeStore(), images, &fakeLoc{}, 30*time.Minute, time.Hour)
	require.NoError(t, tasks.DeleteUnusedImages(context.Background()))
	assert.Equal(t, 1, images.gcCalls)
}

func TestRefreshLocDataPropagatesLocError(t *testing.T) {
	sentinel := context.DeadlineExceeded
	loc := &fakeLoc{err: sentinel}
	tasks := NewTasks(newFakeStore(), &fakeImageCollector{}, loc, 30*time.Minute, time.Hour)
	err := tasks.RefreshLocData(context.Background())
	assert.ErrorIs(t, err, sentinel)
}

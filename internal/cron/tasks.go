package cron

import (
	"context"
	"time"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/images"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// Store is the subset of *store.DB the cron tasks need.
type Store interface {
	ListFollowers(ctx context.Context) ([]store.Follower, error)
	InsertAction(ctx context.Context, a store.NeighborhoodAction) (uint64, error)
	ListActionsForTarget(ctx context.Context, target identity.NetworkID) ([]store.NeighborhoodAction, error)
	CountOutstandingRefreshActions(ctx context.Context, follower identity.NetworkID) (int, error)
	EvictFollower(ctx context.Context, follower identity.NetworkID) error

	ListHostedIdentities(ctx context.Context) ([]store.HostedIdentity, error)
	DeleteHostedIdentity(ctx context.Context, id identity.NetworkID) error

	ListNeighbors(ctx context.Context) ([]store.Neighbor, error)
}

// ImageCollector is satisfied by *images.Manager.
type ImageCollector interface {
	RemoveReference(h images.Hash) int
	GC(ctx context.Context) int
}

// LocClient is the thin interface over C10's LOC adapter that C9 needs:
// whether the local neighborhood snapshot is considered in sync with the
// location service, and the current neighbor set it reports.
type LocClient interface {
	InSync(ctx context.Context) (bool, error)
	Neighborhood(ctx context.Context) ([]LocNeighbor, error)
}

// LocNeighbor is a neighbor record as reported by LOC's get_neighborhood call.
type LocNeighbor struct {
	NetworkID   identity.NetworkID
	IP          string
	PrimaryPort int
	Location    store.Location
}

// Tasks bundles the dependencies the five periodic jobs need.
type Tasks struct {
	store          Store
	images         ImageCollector
	loc            LocClient
	refreshThreshold time.Duration
	expiryThreshold  time.Duration
}

// NewTasks constructs Tasks. refreshThreshold and expiryThreshold are
// spec.md §4.9's "refresh_threshold"/"expiry_threshold" configuration
// knobs (FollowerRefreshTime / NeighborProfilesExpirationTime in
// internal/config).
func NewTasks(s Store, im ImageCollector, loc LocClient, refreshThreshold, expiryThreshold time.Duration) *Tasks {
	return &Tasks{store: s, images: im, loc: loc, refreshThreshold: refreshThreshold, expiryThreshold: expiryThreshold}
}

// CheckFollowersRefresh is the checkFollowersRefresh task: insert
// RefreshProfiles actions for followers overdue for a liveness check, and
// drop followers that have accumulated too many outstanding refreshes.
func (t *Tasks) CheckFollowersRefresh(ctx context.Context) error {
	followers, err := t.store.ListFollowers(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, f := range followers {
		if f.LastRefreshTime != nil && f.LastRefreshTime.After(now.Add(-t.refreshThreshold)) {
			continue
		}
		count, err := t.store.CountOutstandingRefreshActions(ctx, f.NetworkID)
		if err != nil {
			return err
		}
		if count >= refreshStrikeLimit {
			if err := t.store.EvictFollower(ctx, f.NetworkID); err != nil {
				return err
			}
			continue
		}
		if _, err := t.store.InsertAction(ctx, store.NeighborhoodAction{
			ServerID:         f.NetworkID,
			Type:             store.ActionRefreshProfiles,
			Timestamp:        now,
			TargetIdentityID: &f.NetworkID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// refreshStrikeLimit mirrors internal/neighborhood's eviction threshold:
// a follower with this many outstanding refresh actions already queued
// gets no more piled on top, it gets dropped instead.
const refreshStrikeLimit = 3

// CheckExpiredHostedIdentities is the checkExpiredHostedIdentities task:
// delete hosted identities past their expiration date, releasing their
// profile and thumbnail image references.
func (t *Tasks) CheckExpiredHostedIdentities(ctx context.Context) error {
	identities, err := t.store.ListHostedIdentities(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, h := range identities {
		if h.ExpirationDate == nil || h.ExpirationDate.After(now) {
			continue
		}
		for _, raw := range [][]byte{h.ProfileImage, h.ThumbnailImage} {
			if len(raw) == 0 {
				continue
			}
			hash, err := images.HashFromBytes(raw)
			if err != nil {
				continue
			}
			t.images.RemoveReference(hash)
		}
		if err := t.store.DeleteHostedIdentity(ctx, h.NetworkID); err != nil {
			return err
		}
	}
	return nil
}

// CheckExpiredNeighbors is the checkExpiredNeighbors task: while LOC
// reports our neighborhood view as in sync, queue RemoveNeighbor for any
// neighbor overdue a refresh, unless one is already pending.
func (t *Tasks) CheckExpiredNeighbors(ctx context.Context) error {
	inSync, err := t.loc.InSync(ctx)
	if err != nil {
		return err
	}
	if !inSync {
		return nil
	}

	neighbors, err := t.store.ListNeighbors(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, n := range neighbors {
		if n.LastRefreshTime != nil && n.LastRefreshTime.After(now.Add(-t.expiryThreshold)) {
			continue
		}
		pending, err := t.store.ListActionsForTarget(ctx, n.NetworkID)
		if err != nil {
			return err
		}
		if hasRemoveNeighbor(pending) {
			continue
		}
		if _, err := t.store.InsertAction(ctx, store.NeighborhoodAction{
			ServerID:         n.NetworkID,
			Type:             store.ActionRemoveNeighbor,
			Timestamp:        now,
			TargetIdentityID: &n.NetworkID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func hasRemoveNeighbor(actions []store.NeighborhoodAction) bool {
	for _, a := range actions {
		if a.Type == store.ActionRemoveNeighbor {
			return true
		}
	}
	return false
}

// DeleteUnusedImages is the deleteUnusedImages task: run C4's garbage
// collector over the pending-delete queue.
func (t *Tasks) DeleteUnusedImages(ctx context.Context) error {
	t.images.GC(ctx)
	return nil
}

// RefreshLocData is the refreshLocData task: ask LOC for the current
// neighbor set. The returned set is discarded; this task only triggers
// the fetch (which updates the LOC client's InSync state) and surfaces a
// transport/protocol failure. It does not update the stored Neighbor
// table or queue any actions.
func (t *Tasks) RefreshLocData(ctx context.Context) error {
	_, err := t.loc.Neighborhood(ctx)
	return err
}

// Package neighborhood implements C8, the Neighborhood Action Processor:
// a persistent durable queue consumed by a bounded-parallelism worker
// that serializes dispatch per (ServerId, TargetIdentityId) pair.
package neighborhood

import (
	"context"
	"time"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// RejectError marks a fatal, unrecoverable-for-this-action peer response
// (ErrorRejected, or ErrorNotFound for an expected-live case), per
// spec.md §4.8 step 7 — the action is deleted, not retried.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "neighborhood: rejected: " + e.Reason }

// TransientError marks a recoverable I/O or peer-busy failure; the action
// is retried with truncated exponential back-off per spec.md §4.8 step 6.
type TransientError struct {
	Reason string
}

func (e *TransientError) Error() string { return "neighborhood: transient failure: " + e.Reason }

// NeighborView is the minimal row PeerClient needs to dial a target,
// decoupling this package's network side from internal/store's full
// Neighbor/Follower shapes.
type NeighborView struct {
	NetworkID      identity.NetworkID
	IP             string
	PrimaryPort    int
	SrNeighborPort *int
}

// HostedProfile pairs one hosted identity's NetworkId with its replicable
// snapshot, the unit InitializeProfiles streams to a newly-added Follower
// per spec.md §4.8 step 4.
type HostedProfile struct {
	TargetIdentityID identity.NetworkID
	Snapshot         store.ProfileSnapshot
}

// PeerClient performs the actual network conversation for one
// NeighborhoodAction against its target, per spec.md §4.8 steps 3-4.
// TCPPeerClient dials SrNeighborPort, or PrimaryPort directly when
// SrNeighborPort is unset (it issues no ListRoles and persists no port),
// uses TLS when it has a TLS config, verifies the peer's NetworkId, and
// carries out the type-specific effect.
type PeerClient interface {
	InitializeProfiles(ctx context.Context, target NeighborView, profiles []HostedProfile) error
	ShareProfileUpdate(ctx context.Context, target NeighborView, action store.NeighborhoodAction) error
	RefreshLiveness(ctx context.Context, target NeighborView) error
	NotifyStopUpdates(ctx context.Context, target NeighborView) error
}

// ActionStore is the subset of *store.DB the processor depends on.
type ActionStore interface {
	ListReadyActions(ctx context.Context, now time.Time, limit int) ([]store.NeighborhoodAction, error)
	DeleteAction(ctx context.Context, id uint64) error
	RescheduleAction(ctx context.Context, id uint64, executeAfter time.Time, attempt int) error
	CountOutstandingRefreshActions(ctx context.Context, follower identity.NetworkID) (int, error)
	EvictFollower(ctx context.Context, follower identity.NetworkID) error
	RemoveNeighborCascade(ctx context.Context, neighbor identity.NetworkID, keepActionID uint64) error
	ListInitializedHostedIdentities(ctx context.Context) ([]store.HostedIdentity, error)
}

// NeighborLookup resolves a ServerId into the dial-relevant view of its
// Neighbor or Follower row.
type NeighborLookup interface {
	Resolve(ctx context.Context, serverID identity.NetworkID) (NeighborView, error)
}

// targetKey identifies the (ServerId, TargetIdentityId) pair spec.md
// §4.8 step 2 serializes on: at most one in-flight action per pair.
type targetKey struct {
	server identity.NetworkID
	target identity.NetworkID
}

func keyFor(a store.NeighborhoodAction) targetKey {
	k := targetKey{server: a.ServerID}
	if a.TargetIdentityID != nil {
		k.target = *a.TargetIdentityID
	}
	return k
}

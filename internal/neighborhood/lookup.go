package neighborhood

import (
	"context"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// StoreLookup resolves a ServerId against *store.DB's Neighbor table,
// falling back to its Follower table: a target may be either, depending
// on whether we're pushing to it or pulling from it.
type StoreLookup struct {
	neighbors interface {
		GetNeighbor(ctx context.Context, id identity.NetworkID) (store.Neighbor, error)
	}
	followers interface {
		GetFollower(ctx context.Context, id identity.NetworkID) (store.Follower, error)
	}
}

// NewStoreLookup wires *store.DB (which satisfies both embedded
// interfaces) into a NeighborLookup.
func NewStoreLookup(db *store.DB) *StoreLookup {
	return &StoreLookup{neighbors: db, followers: db}
}

func (l *StoreLookup) Resolve(ctx context.Context, serverID identity.NetworkID) (NeighborView, error) {
	if n, err := l.neighbors.GetNeighbor(ctx, serverID); err == nil {
		return NeighborView{NetworkID: n.NetworkID, IP: n.IP, PrimaryPort: n.PrimaryPort, SrNeighborPort: n.SrNeighborPort}, nil
	}
	f, err := l.followers.GetFollower(ctx, serverID)
	if err != nil {
		return NeighborView{}, err
	}
	return NeighborView{NetworkID: f.NetworkID, IP: f.IP, PrimaryPort: f.PrimaryPort, SrNeighborPort: f.SrNeighborPort}, nil
}

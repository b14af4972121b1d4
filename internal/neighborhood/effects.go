package neighborhood

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// dispatch applies action's per-type effect, per spec.md §4.8 step 4.
// RemoveNeighbor is local-only (no peer conversation is needed to erase
// our own bookkeeping about a neighbor going away); every other type
// talks to the resolved peer.
func (p *Processor) dispatch(ctx context.Context, action store.NeighborhoodAction) error {
	if action.Type == store.ActionRemoveNeighbor {
		return p.store.RemoveNeighborCascade(ctx, action.ServerID, action.ID)
	}

	target, err := p.lookup.Resolve(ctx, action.ServerID)
	if err != nil {
		return &TransientError{Reason: err.Error()}
	}

	switch action.Type {
	case store.ActionInitializeProfiles:
		profiles, err := p.hostedProfiles(ctx)
		if err != nil {
			return &TransientError{Reason: err.Error()}
		}
		return p.client.InitializeProfiles(ctx, target, profiles)
	case store.ActionAddProfile, store.ActionChangeProfile, store.ActionRemoveProfile:
		return p.client.ShareProfileUpdate(ctx, target, action)
	case store.ActionRefreshProfiles:
		return p.client.RefreshLiveness(ctx, target)
	case store.ActionStopNeighborhoodUpdate:
		if err := p.client.NotifyStopUpdates(ctx, target); err != nil {
			return err
		}
		return p.store.EvictFollower(ctx, action.ServerID)
	default:
		return errors.Errorf("neighborhood: unknown action type %q", action.Type)
	}
}

// hostedProfiles gathers every initialized, non-cancelled hosted identity
// as the HostedProfile snapshots InitializeProfiles streams to a newly
// added Follower, per spec.md §4.8 step 4.
func (p *Processor) hostedProfiles(ctx context.Context) ([]HostedProfile, error) {
	rows, err := p.store.ListInitializedHostedIdentities(ctx)
	if err != nil {
		return nil, err
	}
	profiles := make([]HostedProfile, 0, len(rows))
	for _, h := range rows {
		profiles = append(profiles, HostedProfile{
			TargetIdentityID: h.NetworkID,
			Snapshot: store.ProfileSnapshot{
				Name:            h.Name,
				Type:            h.Type,
				InitialLocation: h.InitialLocation,
				ExtraData:       h.ExtraData,
				Version:         h.Version,
				ThumbnailImage:  h.ThumbnailImage,
			},
		})
	}
	return profiles, nil
}

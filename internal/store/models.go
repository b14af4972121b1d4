package store

import (
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// UninitializedVersion is the semver sentinel marking a Hosted or Neighbor
// Identity that has not yet completed its first UpdateProfile.
var UninitializedVersion = semver.MustParse("0.0.0")

// Location is a fixed-precision (lat, long) pair in degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// HostedIdentity is an identity whose profile is authoritatively hosted by
// this server.
type HostedIdentity struct {
	NetworkID       identity.NetworkID
	PublicKey       []byte
	Name            string
	Type            string
	InitialLocation Location
	ExtraData       string
	Version         string // semver; "0.0.0" means uninitialized
	ProfileImage    []byte // hash, optional (nil/empty = none)
	ThumbnailImage  []byte
	Initialized     bool
	Cancelled       bool
	ExpirationDate  *time.Time // nil while an active session exists
}

// IsSearchable reports whether this identity may appear in search results:
// not the uninitialized sentinel version, not cancelled, and not expired.
func (h HostedIdentity) IsSearchable() bool {
	if h.Cancelled || h.ExpirationDate != nil {
		return false
	}
	return h.Version != UninitializedVersion.String()
}

// NeighborIdentity is a profile imported from a Neighbor server.
type NeighborIdentity struct {
	HostingServerNetworkID identity.NetworkID
	NetworkID              identity.NetworkID
	PublicKey              []byte
	Name                   string
	Type                   string
	InitialLocation        Location
	ExtraData              string
	Version                string
	ThumbnailImage         []byte
	Cancelled              bool
	ExpirationDate         *time.Time
}

// IsSearchable mirrors HostedIdentity.IsSearchable for imported profiles.
func (n NeighborIdentity) IsSearchable() bool {
	if n.Cancelled || n.ExpirationDate != nil {
		return false
	}
	return n.Version != UninitializedVersion.String()
}

// RelatedIdentity is a signed relationship card attached to a hosted
// identity.
type RelatedIdentity struct {
	OwnerIdentityID  identity.NetworkID
	ApplicationID    string
	RelatedToID      identity.NetworkID
	Type             string
	ValidFrom        time.Time
	ValidTo          time.Time
	SignedCard       []byte
}

// Neighbor is a remote profile server we import profiles from.
type Neighbor struct {
	NetworkID       identity.NetworkID
	IP              string
	PrimaryPort     int
	SrNeighborPort  *int // nil when unknown: the peer client then dials PrimaryPort; nothing discovers or stores it later
	Location        Location
	LastRefreshTime *time.Time // nil until successful initialization
}

// Follower is a remote profile server we push profiles to.
type Follower struct {
	NetworkID       identity.NetworkID
	IP              string
	PrimaryPort     int
	SrNeighborPort  *int
	Location        Location
	LastRefreshTime *time.Time
}

// ProfileSnapshot is the replicable subset of a HostedIdentity fanned out
// to Followers on AddProfile/ChangeProfile, carried msgpack-encoded in a
// NeighborhoodAction's AdditionalData so the queue and the wire payload
// share one encoding.
type ProfileSnapshot struct {
	Name            string   `msgpack:"name"`
	Type            string   `msgpack:"type"`
	InitialLocation Location `msgpack:"location"`
	ExtraData       string   `msgpack:"extra_data"`
	Version         string   `msgpack:"version"`
	ThumbnailImage  []byte   `msgpack:"thumbnail_image"`
}

// EncodeProfileSnapshot msgpack-encodes s as a string suitable for
// NeighborhoodAction.AdditionalData.
func EncodeProfileSnapshot(s ProfileSnapshot) (string, error) {
	b, err := encode(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeProfileSnapshot reverses EncodeProfileSnapshot.
func DecodeProfileSnapshot(raw string) (ProfileSnapshot, error) {
	var s ProfileSnapshot
	err := decode([]byte(raw), &s)
	return s, err
}

// ActionType enumerates the Neighborhood Action kinds C8 consumes.
type ActionType string

const (
	ActionAddProfile             ActionType = "AddProfile"
	ActionChangeProfile          ActionType = "ChangeProfile"
	ActionRemoveProfile          ActionType = "RemoveProfile"
	ActionRefreshProfiles        ActionType = "RefreshProfiles"
	ActionInitializeProfiles     ActionType = "InitializeProfiles"
	ActionStopNeighborhoodUpdate ActionType = "StopNeighborhoodUpdates"
	ActionRemoveNeighbor         ActionType = "RemoveNeighbor"
)

// IsProfilePropagation reports whether a's target must be a Follower
// (true) or a Neighbor (false), per the invariant in spec.md §3.
func (a ActionType) IsProfilePropagation() bool {
	switch a {
	case ActionAddProfile, ActionChangeProfile, ActionRemoveProfile, ActionRefreshProfiles:
		return true
	default:
		return false
	}
}

// NeighborhoodAction is a persistent unit of synchronization work.
type NeighborhoodAction struct {
	ID               uint64
	ServerID         identity.NetworkID
	Type             ActionType
	Timestamp        time.Time
	ExecuteAfter     *time.Time
	TargetIdentityID *identity.NetworkID
	AdditionalData   string
	Attempt          int // count of prior transient failures, for backoff escalation
}

// ReadyAt reports whether the action is eligible to run at "now".
func (a NeighborhoodAction) ReadyAt(now time.Time) bool {
	return a.ExecuteAfter == nil || !a.ExecuteAfter.After(now)
}

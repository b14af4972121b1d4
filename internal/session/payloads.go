package session

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Internet-of-People/iop-profile-server/internal/fabric"
	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// decodePayload re-encodes a generically-decoded msgpack payload (a
// map[string]interface{}, since transport.Request.Payload has static type
// interface{}) into a concrete struct. This round-trip is the simplest
// way to recover static typing from vmihailenco/msgpack/v5's dynamic
// decode without hand-writing a field-by-field type switch per Kind.
func decodePayload(raw interface{}, out interface{}) error {
	b, err := msgpack.Marshal(raw)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(b, out)
}

// StartConversationRequest is the StartConversation payload, per
// spec.md §4.6.
type StartConversationRequest struct {
	ChallengeFromClient []byte `msgpack:"challenge_from_client"`
}

// StartConversationResponse carries the server's identity, its own
// challenge, and its signature over the client's challenge.
type StartConversationResponse struct {
	ServerPublicKey     []byte `msgpack:"server_public_key"`
	ChallengeFromServer []byte `msgpack:"challenge_from_server"`
	SignedClientChallenge []byte `msgpack:"signed_client_challenge"`
}

// VerifyIdentityRequest carries the client's public key and its signature
// over the server's challenge.
type VerifyIdentityRequest struct {
	ClientPublicKey        []byte `msgpack:"client_public_key"`
	SignedServerChallenge  []byte `msgpack:"signed_server_challenge"`
}

// ListRolesResponse is the ListRoles answer. listRolesHandler fills it
// with only the role (and port) the session is connected on; the
// server's other roles are not listed.
type ListRolesResponse struct {
	Roles []RoleInfo `msgpack:"roles"`
}

// RoleInfo is one entry in a ListRoles response.
type RoleInfo struct {
	Role fabric.RoleID `msgpack:"role"`
	Port int           `msgpack:"port"`
}

// RegisterHostingRequest carries nothing beyond the already-authenticated
// session identity; RegisterHosting only needs to know which NetworkId is
// asking.
type RegisterHostingRequest struct{}

// CheckInRequest carries the client's public key and its signature over
// the server's challenge — CheckIn is itself a STARTED->AUTHENTICATED
// transition for a returning hosted identity, not a post-auth probe.
type CheckInRequest struct {
	ClientPublicKey       []byte `msgpack:"client_public_key"`
	SignedServerChallenge []byte `msgpack:"signed_server_challenge"`
}

// CheckInResponse reports the caller's own hosted profile's current
// initialization state.
type CheckInResponse struct {
	Initialized bool   `msgpack:"initialized"`
	Version     string `msgpack:"version"`
}

// UpdateProfileRequest carries the full replicable profile content, per
// spec.md §4.4. Version must be a valid semver string strictly greater
// than the identity's current version.
type UpdateProfileRequest struct {
	Name           string  `msgpack:"name"`
	Type           string  `msgpack:"type"`
	Latitude       float64 `msgpack:"latitude"`
	Longitude      float64 `msgpack:"longitude"`
	ExtraData      string  `msgpack:"extra_data"`
	Version        string  `msgpack:"version"`
	ProfileImage   []byte  `msgpack:"profile_image"`
	ThumbnailImage []byte  `msgpack:"thumbnail_image"`
}

// CancelHostingAgreementRequest carries nothing: the caller's own
// authenticated identity is the one being cancelled.
type CancelHostingAgreementRequest struct{}

// GetIdentityInformationRequest names the NetworkId to look up; it may be
// the caller's own or any other hosted or imported identity.
type GetIdentityInformationRequest struct {
	NetworkID identity.NetworkID `msgpack:"network_id"`
}

// GetIdentityInformationResponse is the publicly-visible projection of a
// Hosted or Neighbor Identity.
type GetIdentityInformationResponse struct {
	NetworkID      identity.NetworkID `msgpack:"network_id"`
	Name           string             `msgpack:"name"`
	Type           string             `msgpack:"type"`
	Latitude       float64            `msgpack:"latitude"`
	Longitude      float64            `msgpack:"longitude"`
	ExtraData      string             `msgpack:"extra_data"`
	Version        string             `msgpack:"version"`
	ThumbnailImage []byte             `msgpack:"thumbnail_image"`
}

// ProfileSearchRequest mirrors internal/search.Query's fields across the
// wire.
type ProfileSearchRequest struct {
	Offset         int     `msgpack:"offset"`
	MaxResults     int     `msgpack:"max_results"`
	TypeFilter     string  `msgpack:"type_filter"`
	NameFilter     string  `msgpack:"name_filter"`
	HasCenter      bool    `msgpack:"has_center"`
	CenterLat      float64 `msgpack:"center_lat"`
	CenterLon      float64 `msgpack:"center_lon"`
	RadiusMeters   float64 `msgpack:"radius_meters"`
	ExtraDataRegex string  `msgpack:"extra_data_regex"`
}

// ProfileSearchResponse carries one page of matches.
type ProfileSearchResponse struct {
	Results []GetIdentityInformationResponse `msgpack:"results"`
}

// ApplicationServiceAddRequest registers one application service id as
// exposed by the caller's online hosted identity session, per spec.md
// §4.6's per-session ExposedApplicationIDs.
type ApplicationServiceAddRequest struct {
	ApplicationID string `msgpack:"application_id"`
}

// startNeighborhoodInitRequest/neighborhoodSharedProfileUpdateRequest/
// finishNeighborhoodInitRequest/stopNeighborhoodUpdatesRequest are this
// server's side of the four neighborhood-synchronization Kinds a peer's
// TCPPeerClient sends when pushing hosted-identity changes to us as its
// Follower. Field names/order are the shared wire contract with
// internal/neighborhood's locally-defined client-side payload structs;
// neither package imports the other's types.
type startNeighborhoodInitRequest struct {
	BatchSize int `msgpack:"batch_size"`
}

type neighborhoodSharedProfileUpdateRequest struct {
	ActionType       string              `msgpack:"action_type"`
	TargetIdentityID *identity.NetworkID `msgpack:"target_identity_id"`
	ProfileSnapshot  string              `msgpack:"profile_snapshot"`
}

type finishNeighborhoodInitRequest struct{}

type stopNeighborhoodUpdatesRequest struct{}

package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/images"
	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
	"github.com/Internet-of-People/iop-profile-server/internal/search"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// RoleHandlerDeps are the dependencies the role-specific handlers need on
// top of the handshake base BuildDispatcher already registers.
type RoleHandlerDeps struct {
	DB       *store.DB
	Metrics  *metrics.Registry
	Images   *images.Manager
	Registry *Registry

	MaxHostedIdentities  int
	CancellationCooldown time.Duration
}

// RegisterRoleHandlers layers the hosted-identity, search, and
// neighborhood-synchronization Kinds onto d, on top of the handshake and
// ListRoles handlers BuildDispatcher already registered.
func RegisterRoleHandlers(d *Dispatcher, deps RoleHandlerDeps) {
	d.Register(transport.KindRegisterHosting, registerHostingHandler(deps), StateAuthenticated)
	d.Register(transport.KindCheckIn, checkInHandler(deps), StateStarted)
	d.Register(transport.KindUpdateProfile, updateProfileHandler(deps), StateAuthenticated)
	d.Register(transport.KindCancelHostingAgreement, cancelHostingAgreementHandler(deps), StateAuthenticated)
	d.Register(transport.KindGetIdentityInformation, getIdentityInformationHandler(deps), StateAuthenticated)
	d.Register(transport.KindProfileSearch, profileSearchHandler(deps), StateAuthenticated)
	d.Register(transport.KindApplicationServiceAdd, applicationServiceAddHandler(), StateAuthenticated)

	d.Register(transport.KindStartNeighborhoodInitialization, startNeighborhoodInitHandler(deps), StateAuthenticated)
	d.Register(transport.KindNeighborhoodSharedProfileUpdate, neighborhoodSharedProfileUpdateHandler(deps), StateAuthenticated)
	d.Register(transport.KindFinishNeighborhoodInitialization, finishNeighborhoodInitHandler(deps), StateAuthenticated)
	d.Register(transport.KindStopNeighborhoodUpdates, stopNeighborhoodUpdatesHandler(deps), StateAuthenticated)
}

// registerHostingHandler enrolls the caller's own NetworkId as a Hosted
// Identity, subject to max_hosted_identities and the cancellation
// cooldown from spec.md's Open Question (i).
func registerHostingHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		id := sess.Identity()

		if at, ok, err := deps.DB.CancelledAt(ctx, id.NetworkID); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		} else if ok && time.Since(at) < deps.CancellationCooldown {
			return transport.Response{Status: transport.StatusErrorRejected}, Continue
		}

		if deps.MaxHostedIdentities > 0 {
			n, err := deps.DB.CountHostedIdentities(ctx)
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}
			if n >= deps.MaxHostedIdentities {
				return transport.Response{Status: transport.StatusErrorBusy}, Continue
			}
		}

		err := deps.DB.InsertHostedIdentity(ctx, store.HostedIdentity{
			NetworkID: id.NetworkID,
			PublicKey: id.PublicKey,
			Version:   store.UninitializedVersion.String(),
		})
		if err == store.ErrAlreadyExists {
			return transport.Response{Status: transport.StatusErrorRejected}, Continue
		}
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// checkInHandler authenticates a returning hosted identity from STARTED,
// per spec.md §4.6/§8's "CheckIn (signature over Cs)" transition — the
// same STARTED->AUTHENTICATED move RegisterHosting's sibling
// VerifyIdentity performs for client roles that haven't hosted yet — and
// then reports the identity's current initialization state.
func checkInHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload CheckInRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		if !identity.Verify(payload.ClientPublicKey, sess.ChallengeFromServer, payload.SignedServerChallenge) {
			return transport.Response{Status: transport.StatusErrorInvalidSignature}, Disconnect
		}

		id := AuthenticatedIdentity(payload.ClientPublicKey)
		sess.Authenticate(id)
		if deps.Registry != nil {
			deps.Registry.Insert(id.NetworkID, sess)
			if deps.Metrics != nil {
				deps.Metrics.SessionsOnline.Set(float64(deps.Registry.Count()))
			}
		}

		h, err := deps.DB.GetHostedIdentity(ctx, id.NetworkID)
		if err == store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorNotFound}, Continue
		}
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		return transport.Response{Status: transport.StatusOk, Payload: CheckInResponse{
			Initialized: h.Initialized,
			Version:     h.Version,
		}}, Continue
	}
}

// fallbackMaxThumbnailBytes is the thumbnail byte ceiling used only when
// a RoleHandlerDeps is built without an Images manager (unit tests that
// don't exercise the image path); production wiring always sizes
// thumbnails from the Manager's own configured ceiling instead.
const fallbackMaxThumbnailBytes = 64 * 1024

// updateProfileHandler replaces the caller's hosted profile content,
// bumping it past UninitializedVersion on first call, runs the uploaded
// image through C4 (validate, thumbnail, then store both), and fans the
// change out to every Follower per spec.md §4.4/§4.8.
func updateProfileHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload UpdateProfileRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		newVersion, err := semver.NewVersion(payload.Version)
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
		}

		id := sess.Identity()
		h, err := deps.DB.GetHostedIdentity(ctx, id.NetworkID)
		if err == store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorRejected}, Continue
		}
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		if current, cerr := semver.NewVersion(h.Version); cerr == nil && !newVersion.GreaterThan(current) {
			return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
		}

		oldProfileImage, oldThumbnailImage := h.ProfileImage, h.ThumbnailImage

		var newProfileHash, newThumbnailHash []byte
		if len(payload.ProfileImage) > 0 {
			if err := images.Validate(payload.ProfileImage); err != nil {
				return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
			}

			profileSum := sha256.Sum256(payload.ProfileImage)
			profileHash, err := images.HashFromBytes(profileSum[:])
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}

			img, err := images.Decode(payload.ProfileImage)
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
			}
			maxThumbnailBytes := fallbackMaxThumbnailBytes
			if deps.Images != nil {
				maxThumbnailBytes = deps.Images.MaxThumbnailBytes()
			}
			thumbnailBytes, err := images.MakeThumbnail(img, maxThumbnailBytes)
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}
			thumbnailSum := sha256.Sum256(thumbnailBytes)
			thumbnailHash, err := images.HashFromBytes(thumbnailSum[:])
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}

			if deps.Images != nil {
				if _, err := deps.Images.Save(profileHash, payload.ProfileImage); err != nil {
					return transport.Response{Status: transport.StatusErrorInternal}, Continue
				}
				if _, err := deps.Images.Save(thumbnailHash, thumbnailBytes); err != nil {
					return transport.Response{Status: transport.StatusErrorInternal}, Continue
				}
			}

			newProfileHash, newThumbnailHash = profileHash[:], thumbnailHash[:]
		}

		h.Name = payload.Name
		h.Type = payload.Type
		h.InitialLocation = store.Location{Latitude: payload.Latitude, Longitude: payload.Longitude}
		h.ExtraData = payload.ExtraData
		h.Version = newVersion.String()
		h.ProfileImage = newProfileHash
		h.ThumbnailImage = newThumbnailHash
		h.Initialized = true

		if err := deps.DB.SaveHostedIdentity(ctx, h); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		if deps.Images != nil {
			releaseStaleImageReference(deps.Images, oldProfileImage, newProfileHash)
			releaseStaleImageReference(deps.Images, oldThumbnailImage, newThumbnailHash)
		}

		snapshot, err := store.EncodeProfileSnapshot(store.ProfileSnapshot{
			Name:            h.Name,
			Type:            h.Type,
			InitialLocation: h.InitialLocation,
			ExtraData:       h.ExtraData,
			Version:         h.Version,
			ThumbnailImage:  h.ThumbnailImage,
		})
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		if _, err := deps.DB.FanOutChangeProfile(ctx, id.NetworkID, snapshot, time.Now()); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// releaseStaleImageReference drops the reference an identity row held on
// a previous image hash once the row has been repointed at new, unless
// new is byte-identical to old (the same image was re-uploaded, so the
// reference count must not dip to zero in between).
func releaseStaleImageReference(mgr *images.Manager, old, new []byte) {
	if len(old) == 0 || bytes.Equal(old, new) {
		return
	}
	h, err := images.HashFromBytes(old)
	if err != nil {
		return
	}
	mgr.RemoveReference(h)
}

// cancelHostingAgreementHandler removes the caller's hosted identity,
// tombstones it for the re-registration cooldown, releases its image
// references, and fans a RemoveProfile action out to every Follower.
func cancelHostingAgreementHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		id := sess.Identity()

		h, err := deps.DB.GetHostedIdentity(ctx, id.NetworkID)
		if err == store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorNotFound}, Continue
		}
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		if err := deps.DB.DeleteHostedIdentity(ctx, id.NetworkID); err != nil {
			if err == store.ErrNotFound {
				return transport.Response{Status: transport.StatusErrorNotFound}, Continue
			}
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		if deps.Images != nil {
			releaseStaleImageReference(deps.Images, h.ProfileImage, nil)
			releaseStaleImageReference(deps.Images, h.ThumbnailImage, nil)
		}

		now := time.Now()
		if err := deps.DB.RecordCancellation(ctx, id.NetworkID, now); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		if _, err := deps.DB.FanOutProfileAction(ctx, store.ActionRemoveProfile, id.NetworkID, "", now); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		if err := deps.DB.DeleteRelatedIdentitiesForOwner(ctx, id.NetworkID); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// resolveThumbnail loads the actual thumbnail bytes C4 stores under hash,
// so GetIdentityInformation serves image content rather than the bare
// hash an identity row persists. Falls back to returning hash itself when
// no Images manager is wired or the blob can't be read, so a caller still
// gets a non-empty value rather than an outright failure.
func resolveThumbnail(mgr *images.Manager, hash []byte) []byte {
	if mgr == nil || len(hash) == 0 {
		return hash
	}
	h, err := images.HashFromBytes(hash)
	if err != nil {
		return hash
	}
	data, err := mgr.Load(h)
	if err != nil {
		return hash
	}
	return data
}

// getIdentityInformationHandler looks a NetworkId up across both the
// hosted and imported-neighbor identity tables.
func getIdentityInformationHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload GetIdentityInformationRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		if h, err := deps.DB.GetHostedIdentity(ctx, payload.NetworkID); err == nil {
			return transport.Response{Status: transport.StatusOk, Payload: GetIdentityInformationResponse{
				NetworkID: h.NetworkID, Name: h.Name, Type: h.Type,
				Latitude: h.InitialLocation.Latitude, Longitude: h.InitialLocation.Longitude,
				ExtraData: h.ExtraData, Version: h.Version, ThumbnailImage: resolveThumbnail(deps.Images, h.ThumbnailImage),
			}}, Continue
		} else if err != store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		neighbors, err := deps.DB.ListNeighborIdentities(ctx)
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		for _, n := range neighbors {
			if n.NetworkID == payload.NetworkID {
				return transport.Response{Status: transport.StatusOk, Payload: GetIdentityInformationResponse{
					NetworkID: n.NetworkID, Name: n.Name, Type: n.Type,
					Latitude: n.InitialLocation.Latitude, Longitude: n.InitialLocation.Longitude,
					ExtraData: n.ExtraData, Version: n.Version, ThumbnailImage: resolveThumbnail(deps.Images, n.ThumbnailImage),
				}}, Continue
			}
		}
		return transport.Response{Status: transport.StatusErrorNotFound}, Continue
	}
}

// maxSearchPageSize bounds a single ProfileSearch response regardless of
// the caller-requested MaxResults, per spec.md §4.7's paging rule.
const maxSearchPageSize = 100

// profileSearchHandler runs internal/search.Run over every searchable
// hosted and imported identity.
func profileSearchHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload ProfileSearchRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		hostedRows, err := deps.DB.ListHostedIdentities(ctx)
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		neighborRows, err := deps.DB.ListNeighborIdentities(ctx)
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		hosted := make([]search.ProfileRecord, 0, len(hostedRows))
		for _, h := range hostedRows {
			hosted = append(hosted, search.ProfileRecord{
				NetworkID: h.NetworkID, Name: h.Name, Type: h.Type,
				Location:  search.Point{Lat: h.InitialLocation.Latitude, Lon: h.InitialLocation.Longitude},
				ExtraData: h.ExtraData, Searchable: h.IsSearchable(),
			})
		}
		neighbor := make([]search.ProfileRecord, 0, len(neighborRows))
		for _, n := range neighborRows {
			neighbor = append(neighbor, search.ProfileRecord{
				NetworkID: n.NetworkID, Name: n.Name, Type: n.Type,
				Location:  search.Point{Lat: n.InitialLocation.Latitude, Lon: n.InitialLocation.Longitude},
				ExtraData: n.ExtraData, Searchable: n.IsSearchable(),
			})
		}

		maxResults := payload.MaxResults
		if maxResults <= 0 || maxResults > maxSearchPageSize {
			maxResults = maxSearchPageSize
		}
		q := search.Query{
			Offset: payload.Offset, MaxResults: maxResults,
			TypeFilter: payload.TypeFilter, NameFilter: payload.NameFilter,
			RadiusMeters: payload.RadiusMeters, ExtraDataRegex: payload.ExtraDataRegex,
		}
		if payload.HasCenter {
			q.Center = &search.Point{Lat: payload.CenterLat, Lon: payload.CenterLon}
		}

		results, err := search.Run(q, hosted, neighbor)
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
		}

		if deps.Metrics != nil {
			deps.Metrics.SearchQueries.Inc()
			deps.Metrics.SearchResultCount.Observe(float64(len(results)))
		}

		out := make([]GetIdentityInformationResponse, 0, len(results))
		for _, r := range results {
			out = append(out, GetIdentityInformationResponse{
				NetworkID: r.NetworkID, Name: r.Name, Type: r.Type,
				Latitude: r.Location.Lat, Longitude: r.Location.Lon, ExtraData: r.ExtraData,
			})
		}
		return transport.Response{Status: transport.StatusOk, Payload: ProfileSearchResponse{Results: out}}, Continue
	}
}

// applicationServiceAddHandler records one more application service id as
// exposed by this session's hosted identity, for relay/discovery by other
// clients of the same online identity.
func applicationServiceAddHandler() Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload ApplicationServiceAddRequest
		if err := decodePayload(req.Payload, &payload); err != nil || payload.ApplicationID == "" {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}
		sess.RoleCtx.ExposedApplicationIDs = append(sess.RoleCtx.ExposedApplicationIDs, payload.ApplicationID)
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// neighborPeerAddress best-effort resolves the dial-back address this
// session's remote peer would reuse for later server-neighbor traffic.
func neighborPeerAddress(sess *Session) string {
	if sess.Conn == nil || sess.Conn.RemoteAddr() == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(sess.Conn.RemoteAddr().String())
	if err != nil {
		return sess.Conn.RemoteAddr().String()
	}
	return host
}

// startNeighborhoodInitHandler begins accepting a batch push of hosted
// profiles from a peer that has picked us as one of its Followers,
// creating the Neighbor bookkeeping row on first contact.
func startNeighborhoodInitHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload startNeighborhoodInitRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		peerID := sess.Identity().NetworkID
		if _, err := deps.DB.GetNeighbor(ctx, peerID); err == store.ErrNotFound {
			port := sess.Role.Port
			if err := deps.DB.SaveNeighbor(ctx, store.Neighbor{
				NetworkID: peerID, IP: neighborPeerAddress(sess), SrNeighborPort: &port,
			}); err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}
		} else if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}

		sess.RoleCtx.NeighborhoodInit = &NeighborhoodInitStatus{InProgress: true}
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// neighborhoodSharedProfileUpdateHandler applies one fanned-out profile
// change from an authenticated Neighbor to our local imported-identity
// table.
func neighborhoodSharedProfileUpdateHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload neighborhoodSharedProfileUpdateRequest
		if err := decodePayload(req.Payload, &payload); err != nil || payload.TargetIdentityID == nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		peerID := sess.Identity().NetworkID
		switch store.ActionType(payload.ActionType) {
		case store.ActionAddProfile, store.ActionChangeProfile:
			snapshot, err := store.DecodeProfileSnapshot(payload.ProfileSnapshot)
			if err != nil {
				return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
			}
			n := store.NeighborIdentity{
				HostingServerNetworkID: peerID,
				NetworkID:              *payload.TargetIdentityID,
				Name:                   snapshot.Name,
				Type:                   snapshot.Type,
				InitialLocation:        snapshot.InitialLocation,
				ExtraData:              snapshot.ExtraData,
				Version:                snapshot.Version,
				ThumbnailImage:         snapshot.ThumbnailImage,
			}
			if err := deps.DB.SaveNeighborIdentity(ctx, n); err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}
		case store.ActionRemoveProfile:
			if err := deps.DB.DeleteNeighborIdentity(ctx, peerID, *payload.TargetIdentityID); err != nil {
				return transport.Response{Status: transport.StatusErrorInternal}, Continue
			}
		default:
			return transport.Response{Status: transport.StatusErrorInvalidValue}, Continue
		}
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// finishNeighborhoodInitHandler closes out an in-progress batch init and
// also doubles as the liveness-refresh heartbeat TCPPeerClient.RefreshLiveness
// sends once initialization has already finished.
func finishNeighborhoodInitHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		if sess.RoleCtx.NeighborhoodInit != nil {
			sess.RoleCtx.NeighborhoodInit.InProgress = false
		}

		peerID := sess.Identity().NetworkID
		n, err := deps.DB.GetNeighbor(ctx, peerID)
		if err == store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorRejected}, Continue
		}
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		now := time.Now()
		n.LastRefreshTime = &now
		if err := deps.DB.SaveNeighbor(ctx, n); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

// stopNeighborhoodUpdatesHandler tears down the Neighbor relationship and
// every identity it contributed, per spec.md §4.8's StopNeighborhoodUpdates
// effect.
func stopNeighborhoodUpdatesHandler(deps RoleHandlerDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		peerID := sess.Identity().NetworkID
		if err := deps.DB.DeleteNeighborIdentitiesForHost(ctx, peerID); err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		if err := deps.DB.DeleteNeighbor(ctx, peerID); err != nil && err != store.ErrNotFound {
			return transport.Response{Status: transport.StatusErrorInternal}, Continue
		}
		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

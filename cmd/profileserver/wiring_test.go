package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func randomID(t *testing.T) identity.NetworkID {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return kp.NetworkID()
}

func TestImageIdentitySourceCollectsHostedAndNeighborReferences(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	hostedID := randomID(t)
	require.NoError(t, db.InsertHostedIdentity(ctx, store.HostedIdentity{
		NetworkID:      hostedID,
		Version:        "1.0.0",
		ProfileImage:   []byte("profile-bytes"),
		ThumbnailImage: []byte("thumb-bytes"),
	}))

	hostID := randomID(t)
	neighborID := randomID(t)
	require.NoError(t, db.SaveNeighborIdentity(ctx, store.NeighborIdentity{
		HostingServerNetworkID: hostID,
		NetworkID:              neighborID,
		Version:                "1.0.0",
		ThumbnailImage:         []byte("neighbor-thumb"),
	}))

	src := &imageIdentitySource{db: db}
	refs, err := src.ListImageReferences(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	var sawHosted, sawNeighbor bool
	for _, r := range refs {
		if string(r.ProfileImage) == "profile-bytes" {
			sawHosted = true
		}
		if string(r.ThumbnailImage) == "neighbor-thumb" {
			sawNeighbor = true
		}
	}
	require.True(t, sawHosted)
	require.True(t, sawNeighbor)
}

func TestClientTLSConfigSkipsChainVerification(t *testing.T) {
	cfg := clientTLSConfig()
	require.True(t, cfg.InsecureSkipVerify)
}

package neighborhood

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

func testStoreDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStoreLookupPrefersNeighborOverFollower(t *testing.T) {
	db := testStoreDB(t)
	ctx := context.Background()
	id := idWith(7)

	require.NoError(t, db.SaveNeighbor(ctx, store.Neighbor{NetworkID: id, IP: "10.0.0.1", PrimaryPort: 16988}))
	require.NoError(t, db.SaveFollower(ctx, store.Follower{NetworkID: id, IP: "10.0.0.2", PrimaryPort: 16989}))

	lookup := NewStoreLookup(db)
	view, err := lookup.Resolve(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", view.IP)
}

func TestStoreLookupFallsBackToFollower(t *testing.T) {
	db := testStoreDB(t)
	ctx := context.Background()
	id := idWith(9)

	require.NoError(t, db.SaveFollower(ctx, store.Follower{NetworkID: id, IP: "10.0.0.5", PrimaryPort: 16989}))

	lookup := NewStoreLookup(db)
	view, err := lookup.Resolve(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", view.IP)
}

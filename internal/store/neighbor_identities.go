package store

import (
	"bytes"
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// SaveNeighborIdentity inserts or replaces a Neighbor Identity, keyed by
// (HostingServerNetworkId, NetworkId).
func (db *DB) SaveNeighborIdentity(ctx context.Context, n NeighborIdentity) error {
	return db.unitOfWork(ctx, []string{TableNeighborIdentities}, true, func(tx *bolt.Tx) error {
		buf, err := encode(n)
		if err != nil {
			return err
		}
		key := neighborIdentityKey(n.HostingServerNetworkID, n.NetworkID)
		return tx.Bucket([]byte(TableNeighborIdentities)).Put(key, buf)
	})
}

// DeleteNeighborIdentity removes a single imported profile.
func (db *DB) DeleteNeighborIdentity(ctx context.Context, host, id identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableNeighborIdentities}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighborIdentities)).Delete(neighborIdentityKey(host, id))
	})
}

// DeleteNeighborIdentitiesForHost removes every profile imported from the
// given neighbor server, used when the Neighbor row itself is deleted.
func (db *DB) DeleteNeighborIdentitiesForHost(ctx context.Context, host identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableNeighborIdentities}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableNeighborIdentities))
		c := b.Cursor()
		prefix := host.Bytes()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListNeighborIdentities returns every imported profile, for search.
func (db *DB) ListNeighborIdentities(ctx context.Context) ([]NeighborIdentity, error) {
	var out []NeighborIdentity
	err := db.unitOfWork(ctx, []string{TableNeighborIdentities}, false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighborIdentities)).ForEach(func(_, v []byte) error {
			var n NeighborIdentity
			if err := decode(v, &n); err != nil {
				return err
			}
			out = append(out, n)
			return nil
		})
	})
	return out, err
}

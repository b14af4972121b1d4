package store

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// SaveNeighbor inserts or replaces a Neighbor row, keyed by NetworkId.
func (db *DB) SaveNeighbor(ctx context.Context, n Neighbor) error {
	return db.unitOfWork(ctx, []string{TableNeighbors}, true, func(tx *bolt.Tx) error {
		buf, err := encode(n)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(TableNeighbors)).Put(n.NetworkID.Bytes(), buf)
	})
}

// GetNeighbor fetches a Neighbor by NetworkId.
func (db *DB) GetNeighbor(ctx context.Context, id identity.NetworkID) (Neighbor, error) {
	var n Neighbor
	err := db.unitOfWork(ctx, []string{TableNeighbors}, false, func(tx *bolt.Tx) error {
		buf := tx.Bucket([]byte(TableNeighbors)).Get(id.Bytes())
		if buf == nil {
			return ErrNotFound
		}
		return decode(buf, &n)
	})
	return n, err
}

// DeleteNeighbor removes a Neighbor row.
func (db *DB) DeleteNeighbor(ctx context.Context, id identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableNeighbors}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighbors)).Delete(id.Bytes())
	})
}

// ListNeighbors returns every Neighbor row.
func (db *DB) ListNeighbors(ctx context.Context) ([]Neighbor, error) {
	var out []Neighbor
	err := db.unitOfWork(ctx, []string{TableNeighbors}, false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighbors)).ForEach(func(_, v []byte) error {
			var n Neighbor
			if err := decode(v, &n); err != nil {
				return err
			}
			out = append(out, n)
			return nil
		})
	})
	return out, err
}

package store

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// SaveFollower inserts or replaces a Follower row, keyed by NetworkId.
func (db *DB) SaveFollower(ctx context.Context, f Follower) error {
	return db.unitOfWork(ctx, []string{TableFollowers}, true, func(tx *bolt.Tx) error {
		buf, err := encode(f)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(TableFollowers)).Put(f.NetworkID.Bytes(), buf)
	})
}

// GetFollower fetches a Follower by NetworkId.
func (db *DB) GetFollower(ctx context.Context, id identity.NetworkID) (Follower, error) {
	var f Follower
	err := db.unitOfWork(ctx, []string{TableFollowers}, false, func(tx *bolt.Tx) error {
		buf := tx.Bucket([]byte(TableFollowers)).Get(id.Bytes())
		if buf == nil {
			return ErrNotFound
		}
		return decode(buf, &f)
	})
	return f, err
}

// DeleteFollower removes a Follower row.
func (db *DB) DeleteFollower(ctx context.Context, id identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableFollowers}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableFollowers)).Delete(id.Bytes())
	})
}

// ListFollowers returns every Follower row.
func (db *DB) ListFollowers(ctx context.Context) ([]Follower, error) {
	var out []Follower
	err := db.unitOfWork(ctx, []string{TableFollowers}, false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableFollowers)).ForEach(func(_, v []byte) error {
			var f Follower
			if err := decode(v, &f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	})
	return out, err
}

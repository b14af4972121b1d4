package store

import (
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// ErrNotFound is returned when a lookup by key finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when an insert would violate a uniqueness
// invariant.
var ErrAlreadyExists = errors.New("store: already exists")

// SaveHostedIdentity inserts or replaces a Hosted Identity row, keyed by
// NetworkId.
func (db *DB) SaveHostedIdentity(ctx context.Context, h HostedIdentity) error {
	return db.unitOfWork(ctx, []string{TableHostedIdentities}, true, func(tx *bolt.Tx) error {
		buf, err := encode(h)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(TableHostedIdentities)).Put(h.NetworkID.Bytes(), buf)
	})
}

// InsertHostedIdentity inserts a new Hosted Identity, failing with
// ErrAlreadyExists if NetworkId is already present (at most one row per
// NetworkId).
func (db *DB) InsertHostedIdentity(ctx context.Context, h HostedIdentity) error {
	return db.unitOfWork(ctx, []string{TableHostedIdentities}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableHostedIdentities))
		if b.Get(h.NetworkID.Bytes()) != nil {
			return ErrAlreadyExists
		}
		buf, err := encode(h)
		if err != nil {
			return err
		}
		return b.Put(h.NetworkID.Bytes(), buf)
	})
}

// GetHostedIdentity fetches a Hosted Identity by NetworkId.
func (db *DB) GetHostedIdentity(ctx context.Context, id identity.NetworkID) (HostedIdentity, error) {
	var h HostedIdentity
	err := db.unitOfWork(ctx, []string{TableHostedIdentities}, false, func(tx *bolt.Tx) error {
		buf := tx.Bucket([]byte(TableHostedIdentities)).Get(id.Bytes())
		if buf == nil {
			return ErrNotFound
		}
		return decode(buf, &h)
	})
	return h, err
}

// DeleteHostedIdentity removes a Hosted Identity row. Returns ErrNotFound
// if absent.
func (db *DB) DeleteHostedIdentity(ctx context.Context, id identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableHostedIdentities}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableHostedIdentities))
		if b.Get(id.Bytes()) == nil {
			return ErrNotFound
		}
		return b.Delete(id.Bytes())
	})
}

// ListHostedIdentities returns every Hosted Identity row, for search and
// for Cron's expiry sweep.
func (db *DB) ListHostedIdentities(ctx context.Context) ([]HostedIdentity, error) {
	var out []HostedIdentity
	err := db.unitOfWork(ctx, []string{TableHostedIdentities}, false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableHostedIdentities)).ForEach(func(_, v []byte) error {
			var h HostedIdentity
			if err := decode(v, &h); err != nil {
				return err
			}
			out = append(out, h)
			return nil
		})
	})
	return out, err
}

// ListInitializedHostedIdentities returns every Hosted Identity row that
// has completed its first UpdateProfile and has not been cancelled, per
// spec.md §4.8 step 4's InitializeProfiles effect: a newly-added Follower
// is only owed the profiles that actually exist yet.
func (db *DB) ListInitializedHostedIdentities(ctx context.Context) ([]HostedIdentity, error) {
	all, err := db.ListHostedIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HostedIdentity, 0, len(all))
	for _, h := range all {
		if h.Initialized && !h.Cancelled {
			out = append(out, h)
		}
	}
	return out, nil
}

// CountHostedIdentities is used to enforce max_hosted_identities.
func (db *DB) CountHostedIdentities(ctx context.Context) (int, error) {
	n := 0
	err := db.unitOfWork(ctx, []string{TableHostedIdentities}, false, func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(TableHostedIdentities)).Stats().KeyN
		return nil
	})
	return n, err
}

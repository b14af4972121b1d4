package store

import (
	"bytes"
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// SaveRelatedIdentity inserts or replaces a relationship card, unique per
// (IdentityId, ApplicationId).
func (db *DB) SaveRelatedIdentity(ctx context.Context, r RelatedIdentity) error {
	return db.unitOfWork(ctx, []string{TableRelatedIdentities}, true, func(tx *bolt.Tx) error {
		buf, err := encode(r)
		if err != nil {
			return err
		}
		key := relatedIdentityKey(r.OwnerIdentityID, r.ApplicationID)
		return tx.Bucket([]byte(TableRelatedIdentities)).Put(key, buf)
	})
}

// DeleteRelatedIdentity removes a single relationship card.
func (db *DB) DeleteRelatedIdentity(ctx context.Context, owner identity.NetworkID, appID string) error {
	return db.unitOfWork(ctx, []string{TableRelatedIdentities}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableRelatedIdentities)).Delete(relatedIdentityKey(owner, appID))
	})
}

// DeleteRelatedIdentitiesForOwner removes every relationship card owned by
// the given identity, used when the hosted identity itself is deleted.
func (db *DB) DeleteRelatedIdentitiesForOwner(ctx context.Context, owner identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableRelatedIdentities}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableRelatedIdentities))
		c := b.Cursor()
		prefix := owner.Bytes()
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

// ListRelatedIdentities returns every relationship card owned by owner.
func (db *DB) ListRelatedIdentities(ctx context.Context, owner identity.NetworkID) ([]RelatedIdentity, error) {
	var out []RelatedIdentity
	err := db.unitOfWork(ctx, []string{TableRelatedIdentities}, false, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableRelatedIdentities))
		c := b.Cursor()
		prefix := owner.Bytes()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r RelatedIdentity
			if err := decode(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

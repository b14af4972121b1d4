package store

import (
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// RecordCancellation stamps a tombstone for id's cancellation time,
// implementing the re-registration cool-down decided for spec.md's Open
// Question (i): a cancelled identity may not RegisterHosting again until
// cancelled_registration_cooldown has elapsed.
func (db *DB) RecordCancellation(ctx context.Context, id identity.NetworkID, at time.Time) error {
	return db.unitOfWork(ctx, []string{tableTombstones}, true, func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(at.Unix()))
		return tx.Bucket([]byte(tableTombstones)).Put(id.Bytes(), buf)
	})
}

// CancelledAt reports the most recent cancellation time for id, if any.
func (db *DB) CancelledAt(ctx context.Context, id identity.NetworkID) (t time.Time, ok bool, err error) {
	err = db.unitOfWork(ctx, []string{tableTombstones}, false, func(tx *bolt.Tx) error {
		buf := tx.Bucket([]byte(tableTombstones)).Get(id.Bytes())
		if buf == nil {
			return nil
		}
		ok = true
		t = time.Unix(int64(binary.BigEndian.Uint64(buf)), 0).UTC()
		return nil
	})
	return t, ok, err
}

package store

import (
	"context"

	bolt "go.etcd.io/bbolt"
)

// GetSetting reads a single (name -> value) string setting. ok is false if
// the setting has never been written.
func (db *DB) GetSetting(ctx context.Context, name string) (value string, ok bool, err error) {
	err = db.unitOfWork(ctx, []string{TableSettings}, false, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableSettings)).Get([]byte(name))
		if b == nil {
			return nil
		}
		ok = true
		value = string(b)
		return nil
	})
	return value, ok, err
}

// SetSetting writes a single (name -> value) string setting.
func (db *DB) SetSetting(ctx context.Context, name, value string) error {
	return db.unitOfWork(ctx, []string{TableSettings}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableSettings)).Put([]byte(name), []byte(value))
	})
}

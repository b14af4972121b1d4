// Package store implements C3, the embedded transactional Profile Store:
// hosted identities, neighbor identities, related-identity cards,
// neighbors, followers, the neighborhood-action queue, and settings, all
// persisted in a single go.etcd.io/bbolt file with named, lexicographically
// ordered locks guarding multi-table units of work.
package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Table names double as bucket names and as the named locks a unit of work
// acquires. Lock acquisition order is always their lexicographic sort
// order, never declaration order, to satisfy the global deadlock-avoidance
// ordering rule.
const (
	TableFollowers          = "followers"
	TableHostedIdentities   = "hosted_identities"
	TableNeighborIdentities = "neighbor_identities"
	TableNeighborhoodAction = "neighborhood_actions"
	TableNeighbors          = "neighbors"
	TableRelatedIdentities  = "related_identities"
	TableSettings           = "settings"
	tableTombstones         = "cancelled_identity_tombstones"
)

var allTables = []string{
	TableFollowers,
	TableHostedIdentities,
	TableNeighborIdentities,
	TableNeighborhoodAction,
	TableNeighbors,
	TableRelatedIdentities,
	TableSettings,
	tableTombstones,
}

// DB is the opened database file plus the named lock manager. It is
// infrastructure shared by the Configuration Store (C2, settings only) and
// the full Profile Store (C3); its lifetime matches the whole process.
type DB struct {
	bolt  *bolt.DB
	locks *lockManager
}

// Open opens (creating if absent) the profile server's bbolt database file
// under dataRoot and ensures every table's bucket exists.
func Open(dataRoot string) (*DB, error) {
	path := filepath.Join(dataRoot, "profile_server.db")
	b, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range allTables {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "store: create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	return &DB{bolt: b, locks: newLockManager(allTables)}, nil
}

// Close releases the underlying file handle.
func (db *DB) Close() error {
	return errors.Wrap(db.bolt.Close(), "store: close")
}

// unitOfWork runs fn under a single bbolt transaction while holding the
// named locks for tables, acquired in lexicographic order and released in
// reverse. write selects an update (read-write) vs. view (read-only)
// bbolt transaction; bbolt's own single-writer semantics plus our lock
// manager together give the serializable isolation the spec requires.
// fn must not perform network I/O or other unbounded waits.
func (db *DB) unitOfWork(ctx context.Context, tables []string, write bool, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := make([]string, len(tables))
	copy(sorted, tables)
	sort.Strings(sorted)

	release := db.locks.acquire(sorted, write)
	defer release()

	if write {
		return db.bolt.Update(fn)
	}
	return db.bolt.View(fn)
}

// lockManager holds one RWMutex per table name, acquired/released strictly
// in the lexicographic order of the requested table names.
type lockManager struct {
	mu map[string]*sync.RWMutex
}

func newLockManager(tables []string) *lockManager {
	lm := &lockManager{mu: make(map[string]*sync.RWMutex, len(tables))}
	for _, t := range tables {
		lm.mu[t] = &sync.RWMutex{}
	}
	return lm
}

// acquire locks the named tables (already sorted) in order and returns a
// release function that unlocks them in reverse order.
func (lm *lockManager) acquire(sortedTables []string, write bool) func() {
	for _, t := range sortedTables {
		l := lm.mu[t]
		if write {
			l.Lock()
		} else {
			l.RLock()
		}
	}
	return func() {
		for i := len(sortedTables) - 1; i >= 0; i-- {
			l := lm.mu[sortedTables[i]]
			if write {
				l.Unlock()
			} else {
				l.RUnlock()
			}
		}
	}
}

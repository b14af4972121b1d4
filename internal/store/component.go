package store

import (
	"context"

	"go.uber.org/zap"
)

// ProfileStore is the C3 component: it does not own the database file's
// lifetime (that is bootstrap infrastructure shared with C2, opened
// before the component Supervisor runs and closed after it stops) but it
// is the named component in the fixed Init/Shutdown order, and it is what
// C5-C9 depend on for all persistent reads and writes.
type ProfileStore struct {
	DB     *DB
	logger *zap.Logger
}

// NewProfileStore wraps an already-open DB as the C3 component.
func NewProfileStore(db *DB, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{DB: db, logger: logger.Named("store")}
}

// Init is a no-op beyond logging: bucket creation already happened in
// Open, which runs before the component Supervisor starts.
func (s *ProfileStore) Init(ctx context.Context) error {
	s.logger.Info("profile store ready")
	return nil
}

// Shutdown is a no-op: the DB handle outlives the component Supervisor so
// that components shutting down after this one (in reverse order) can
// still persist final state.
func (s *ProfileStore) Shutdown(ctx context.Context) error {
	s.logger.Info("profile store stopping")
	return nil
}

package store

import (
	"bytes"
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// InsertAction enqueues a new Neighborhood Action, assigning it the next
// auto-increment Id. The invariant that a's ServerId exists in the
// appropriate Followers/Neighbors table is the caller's responsibility
// (the call sites in internal/cron take ServerID from a Follower or
// Neighbor row they have just listed).
func (db *DB) InsertAction(ctx context.Context, a NeighborhoodAction) (uint64, error) {
	var id uint64
	err := db.unitOfWork(ctx, []string{TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableNeighborhoodAction))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		a.ID = id
		buf, err := encode(a)
		if err != nil {
			return err
		}
		return b.Put(actionKey(id), buf)
	})
	return id, err
}

// DeleteAction removes an action row, called on successful dispatch or
// when an action is rejected with a fatal protocol error.
func (db *DB) DeleteAction(ctx context.Context, id uint64) error {
	return db.unitOfWork(ctx, []string{TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighborhoodAction)).Delete(actionKey(id))
	})
}

// RescheduleAction sets a transiently-failed action's ExecuteAfter to a
// future time and records its attempt count, leaving the row in place for
// the next poll. attempt is persisted so the next failure's backoff
// interval can be computed from the full retry history rather than
// restarting at the initial interval every time.
func (db *DB) RescheduleAction(ctx context.Context, id uint64, executeAfter time.Time, attempt int) error {
	return db.unitOfWork(ctx, []string{TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableNeighborhoodAction))
		buf := b.Get(actionKey(id))
		if buf == nil {
			return ErrNotFound
		}
		var a NeighborhoodAction
		if err := decode(buf, &a); err != nil {
			return err
		}
		a.ExecuteAfter = &executeAfter
		a.Attempt = attempt
		newBuf, err := encode(a)
		if err != nil {
			return err
		}
		return b.Put(actionKey(id), newBuf)
	})
}

// ListReadyActions returns up to limit actions eligible to run at now,
// ordered by Id ascending (insertion order), for C8's poll step.
func (db *DB) ListReadyActions(ctx context.Context, now time.Time, limit int) ([]NeighborhoodAction, error) {
	var out []NeighborhoodAction
	err := db.unitOfWork(ctx, []string{TableNeighborhoodAction}, false, func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(TableNeighborhoodAction)).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var a NeighborhoodAction
			if err := decode(v, &a); err != nil {
				return err
			}
			if a.ReadyAt(now) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// ListActionsForTarget returns every queued action addressed to target,
// used by Cron to detect an already-queued RemoveNeighbor and by
// CountOutstandingRefreshActions for the three-strikes rule.
func (db *DB) ListActionsForTarget(ctx context.Context, target identity.NetworkID) ([]NeighborhoodAction, error) {
	var out []NeighborhoodAction
	err := db.unitOfWork(ctx, []string{TableNeighborhoodAction}, false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(TableNeighborhoodAction)).ForEach(func(_, v []byte) error {
			var a NeighborhoodAction
			if err := decode(v, &a); err != nil {
				return err
			}
			if bytes.Equal(a.ServerID.Bytes(), target.Bytes()) {
				out = append(out, a)
			}
			return nil
		})
	})
	return out, err
}

// CountOutstandingRefreshActions counts queued RefreshProfiles actions
// targeting follower, used to trigger the three-strikes eviction rule.
func (db *DB) CountOutstandingRefreshActions(ctx context.Context, follower identity.NetworkID) (int, error) {
	actions, err := db.ListActionsForTarget(ctx, follower)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range actions {
		if a.Type == ActionRefreshProfiles {
			n++
		}
	}
	return n, nil
}

// FanOutChangeProfile inserts one ChangeProfile action per Follower row,
// targeting identityID, all under a single transaction holding the
// Followers and NeighborhoodAction locks together, per spec.md §4.8's
// identity-change fan-out rule.
func (db *DB) FanOutChangeProfile(ctx context.Context, identityID identity.NetworkID, additionalData string, now time.Time) (int, error) {
	return db.FanOutProfileAction(ctx, ActionChangeProfile, identityID, additionalData, now)
}

// FanOutProfileAction inserts one actionType action per Follower row,
// targeting identityID, under a single transaction holding the Followers
// and NeighborhoodAction locks together. Used for AddProfile/ChangeProfile/
// RemoveProfile, whichever a hosted identity's lifecycle event requires.
func (db *DB) FanOutProfileAction(ctx context.Context, actionType ActionType, identityID identity.NetworkID, additionalData string, now time.Time) (int, error) {
	inserted := 0
	err := db.unitOfWork(ctx, []string{TableFollowers, TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		followers := tx.Bucket([]byte(TableFollowers))
		actions := tx.Bucket([]byte(TableNeighborhoodAction))

		var targets []identity.NetworkID
		err := followers.ForEach(func(k, v []byte) error {
			var f Follower
			if err := decode(v, &f); err != nil {
				return err
			}
			targets = append(targets, f.NetworkID)
			return nil
		})
		if err != nil {
			return err
		}

		for _, target := range targets {
			seq, err := actions.NextSequence()
			if err != nil {
				return err
			}
			targetID := identityID
			a := NeighborhoodAction{
				ID:               seq,
				ServerID:         target,
				Type:             actionType,
				Timestamp:        now,
				TargetIdentityID: &targetID,
				AdditionalData:   additionalData,
			}
			buf, err := encode(a)
			if err != nil {
				return err
			}
			if err := actions.Put(actionKey(seq), buf); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// EvictFollower deletes a Follower row together with every action queued
// against it, under a single transaction holding both locks.
func (db *DB) EvictFollower(ctx context.Context, follower identity.NetworkID) error {
	return db.unitOfWork(ctx, []string{TableFollowers, TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(TableFollowers)).Delete(follower.Bytes()); err != nil {
			return err
		}
		return deleteActionsForTarget(tx, follower)
	})
}

// RemoveNeighborCascade deletes a Neighbor row, every Neighbor Identity it
// hosts, and every queued action targeting it except keepActionID (the
// RemoveNeighbor action currently being executed), under one transaction.
func (db *DB) RemoveNeighborCascade(ctx context.Context, neighbor identity.NetworkID, keepActionID uint64) error {
	return db.unitOfWork(ctx, []string{TableNeighbors, TableNeighborIdentities, TableNeighborhoodAction}, true, func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(TableNeighbors)).Delete(neighbor.Bytes()); err != nil {
			return err
		}

		nib := tx.Bucket([]byte(TableNeighborIdentities))
		c := nib.Cursor()
		prefix := neighbor.Bytes()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := nib.Delete(k); err != nil {
				return err
			}
		}

		actions := tx.Bucket([]byte(TableNeighborhoodAction))
		var actionsToDelete [][]byte
		err := actions.ForEach(func(k, v []byte) error {
			var a NeighborhoodAction
			if err := decode(v, &a); err != nil {
				return err
			}
			if bytes.Equal(a.ServerID.Bytes(), neighbor.Bytes()) && a.ID != keepActionID {
				key := make([]byte, len(k))
				copy(key, k)
				actionsToDelete = append(actionsToDelete, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range actionsToDelete {
			if err := actions.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteActionsForTarget(tx *bolt.Tx, target identity.NetworkID) error {
	b := tx.Bucket([]byte(TableNeighborhoodAction))
	var toDelete [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var a NeighborhoodAction
		if err := decode(v, &a); err != nil {
			return err
		}
		if bytes.Equal(a.ServerID.Bytes(), target.Bytes()) {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

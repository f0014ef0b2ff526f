package state

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/liliang-cn/gosinble/pkg/types"
)

var snapshotsBucket = []byte("snapshots")

// BoltPersistence stores snapshots as JSON values in a single bbolt
// bucket, keyed by snapshot ID. Good for a single long-lived automation
// host that wants crash-safe durability without running a database.
type BoltPersistence struct {
	db *bolt.DB
}

// NewBoltPersistence opens (creating if needed) a bbolt database at path.
func NewBoltPersistence(path string) (*BoltPersistence, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &types.StateError{Op: "init_bolt_persistence", Message: "open db", Cause: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &types.StateError{Op: "init_bolt_persistence", Message: "create bucket", Cause: err}
	}
	return &BoltPersistence{db: db}, nil
}

func (p *BoltPersistence) SaveSnapshot(_ context.Context, snap *StateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "marshal", Cause: err}
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(snap.ID), data)
	})
	if err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "put", Cause: err}
	}
	return nil
}

func (p *BoltPersistence) LoadSnapshot(_ context.Context, id string) (*StateSnapshot, error) {
	var snap StateSnapshot
	found := false
	err := p.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, &types.StateError{Op: "load_snapshot", Message: "get", Cause: err}
	}
	if !found {
		return nil, &types.StateError{Op: "load_snapshot", Message: "not found: " + id}
	}
	return &snap, nil
}

func (p *BoltPersistence) ListSnapshots(_ context.Context, playbook string) ([]*StateSnapshot, error) {
	var out []*StateSnapshot
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(_, data []byte) error {
			var snap StateSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return nil
			}
			if playbook == "" || snap.Playbook == playbook {
				cp := snap
				out = append(out, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &types.StateError{Op: "list_snapshots", Message: "scan", Cause: err}
	}
	return out, nil
}

func (p *BoltPersistence) DeleteSnapshot(_ context.Context, id string) error {
	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Delete([]byte(id))
	})
	if err != nil {
		return &types.StateError{Op: "delete_snapshot", Message: "delete", Cause: err}
	}
	return nil
}

func (p *BoltPersistence) CleanupBefore(_ context.Context, cutoff time.Time) (int, error) {
	var stale [][]byte
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(k, data []byte) error {
			var snap StateSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return nil
			}
			if snap.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, &types.StateError{Op: "cleanup_before", Message: "scan", Cause: err}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(snapshotsBucket)
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &types.StateError{Op: "cleanup_before", Message: "delete", Cause: err}
	}
	return len(stale), nil
}

func (p *BoltPersistence) Close() error { return p.db.Close() }

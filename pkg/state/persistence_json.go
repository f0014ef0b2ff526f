package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// JSONPersistence stores one JSON file per snapshot under a directory,
// named "<id>.json", plus an "index.json" mapping playbook name to its
// latest snapshot ID, kept current on every save and delete. ListSnapshots
// scans the directory, and Manager.GetLatestSnapshot does not read the
// index.
type JSONPersistence struct {
	mu  sync.Mutex
	dir string
}

// NewJSONPersistence ensures dir exists and returns a backend rooted there.
func NewJSONPersistence(dir string) (*JSONPersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.StateError{Op: "init_json_persistence", Message: "create state dir", Cause: err}
	}
	return &JSONPersistence{dir: dir}, nil
}

func (p *JSONPersistence) path(id string) string {
	return filepath.Join(p.dir, id+".json")
}

func (p *JSONPersistence) indexPath() string {
	return filepath.Join(p.dir, "index.json")
}

// jsonIndexEntry records which snapshot is latest for a playbook, and
// when, so a concurrent writer can tell whether its snapshot is newer.
type jsonIndexEntry struct {
	SnapshotID string    `json:"snapshot_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *JSONPersistence) readIndex() (map[string]jsonIndexEntry, error) {
	data, err := os.ReadFile(p.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]jsonIndexEntry), nil
		}
		return nil, err
	}
	index := make(map[string]jsonIndexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (p *JSONPersistence) writeIndex(index map[string]jsonIndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.indexPath())
}

// updateIndex records snap as the latest for its playbook if it is newer
// than (or replaces) whatever the index currently holds.
func (p *JSONPersistence) updateIndex(snap *StateSnapshot) error {
	if snap.Playbook == "" {
		return nil
	}
	index, err := p.readIndex()
	if err != nil {
		return err
	}
	current, ok := index[snap.Playbook]
	if !ok || !current.CreatedAt.After(snap.CreatedAt) {
		index[snap.Playbook] = jsonIndexEntry{SnapshotID: snap.ID, CreatedAt: snap.CreatedAt}
		return p.writeIndex(index)
	}
	return nil
}

func (p *JSONPersistence) SaveSnapshot(_ context.Context, snap *StateSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "marshal", Cause: err}
	}
	tmp := p.path(snap.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "write", Cause: err}
	}
	if err := os.Rename(tmp, p.path(snap.ID)); err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "rename", Cause: err}
	}
	if err := p.updateIndex(snap); err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "update index", Cause: err}
	}
	return nil
}

func (p *JSONPersistence) LoadSnapshot(_ context.Context, id string) (*StateSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path(id))
	if err != nil {
		return nil, &types.StateError{Op: "load_snapshot", Message: "not found: " + id, Cause: err}
	}
	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &types.StateError{Op: "load_snapshot", Message: "unmarshal", Cause: err}
	}
	return &snap, nil
}

func (p *JSONPersistence) ListSnapshots(_ context.Context, playbook string) ([]*StateSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listSnapshotsLocked(playbook)
}

func (p *JSONPersistence) listSnapshotsLocked(playbook string) ([]*StateSnapshot, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, &types.StateError{Op: "list_snapshots", Message: "read dir", Cause: err}
	}
	var out []*StateSnapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || e.Name() == "index.json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, e.Name()))
		if err != nil {
			continue
		}
		var snap StateSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		if playbook == "" || snap.Playbook == playbook {
			cp := snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *JSONPersistence) DeleteSnapshot(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.path(id)); err != nil && !os.IsNotExist(err) {
		return &types.StateError{Op: "delete_snapshot", Message: "remove", Cause: err}
	}
	return p.removeFromIndex(id)
}

// removeFromIndex drops id from the playbook index if it was the recorded
// latest, recomputing the new latest from whatever remains on disk.
func (p *JSONPersistence) removeFromIndex(id string) error {
	index, err := p.readIndex()
	if err != nil {
		return err
	}
	changed := false
	for playbook, entry := range index {
		if entry.SnapshotID != id {
			continue
		}
		changed = true
		remaining, err := p.listSnapshotsLocked(playbook)
		if err != nil {
			return err
		}
		delete(index, playbook)
		var latest *StateSnapshot
		for _, snap := range remaining {
			if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
				latest = snap
			}
		}
		if latest != nil {
			index[playbook] = jsonIndexEntry{SnapshotID: latest.ID, CreatedAt: latest.CreatedAt}
		}
	}
	if !changed {
		return nil
	}
	return p.writeIndex(index)
}

func (p *JSONPersistence) CleanupBefore(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snaps, err := p.listSnapshotsLocked("")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, snap := range snaps {
		if snap.CreatedAt.Before(cutoff) {
			if err := os.Remove(p.path(snap.ID)); err != nil && !os.IsNotExist(err) {
				return removed, &types.StateError{Op: "cleanup_before", Message: "remove", Cause: err}
			}
			if err := p.removeFromIndex(snap.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (p *JSONPersistence) Close() error { return nil }

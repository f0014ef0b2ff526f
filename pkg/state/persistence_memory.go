package state

import (
	"context"
	"sync"
	"time"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// MemoryPersistence keeps snapshots in a process-local map. It satisfies
// Persistence for tests and ad-hoc runs that don't need durability.
type MemoryPersistence struct {
	mu        sync.RWMutex
	snapshots map[string]*StateSnapshot
}

// NewMemoryPersistence returns an empty in-memory store.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{snapshots: make(map[string]*StateSnapshot)}
}

func (p *MemoryPersistence) SaveSnapshot(_ context.Context, snap *StateSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *snap
	p.snapshots[snap.ID] = &cp
	return nil
}

func (p *MemoryPersistence) LoadSnapshot(_ context.Context, id string) (*StateSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.snapshots[id]
	if !ok {
		return nil, &types.StateError{Op: "load_snapshot", Message: "not found: " + id}
	}
	cp := *snap
	return &cp, nil
}

func (p *MemoryPersistence) ListSnapshots(_ context.Context, playbook string) ([]*StateSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*StateSnapshot
	for _, snap := range p.snapshots {
		if playbook == "" || snap.Playbook == playbook {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *MemoryPersistence) DeleteSnapshot(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.snapshots, id)
	return nil
}

func (p *MemoryPersistence) CleanupBefore(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, snap := range p.snapshots {
		if snap.CreatedAt.Before(cutoff) {
			delete(p.snapshots, id)
			removed++
		}
	}
	return removed, nil
}

func (p *MemoryPersistence) Close() error { return nil }

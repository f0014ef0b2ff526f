package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetentionPeriod = 0
	cfg.MaxSnapshots = 100
	return NewManager(cfg, NewMemoryPersistence())
}

func TestManagerGetLatestSnapshotIsKeyedByPlaybook(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	sessA := mgr.StartSession("site.yml")
	sessA.RecordTask(NewTaskStateRecord("t1", "install", "web1", "package").Complete(StatusChanged))
	snapA, err := mgr.EndSession(ctx, sessA.ID, "run 1")
	require.NoError(t, err)

	sessB := mgr.StartSession("other.yml")
	sessB.RecordTask(NewTaskStateRecord("t1", "install", "db1", "package").Complete(StatusChanged))
	_, err = mgr.EndSession(ctx, sessB.ID, "run 1")
	require.NoError(t, err)

	latest, err := mgr.GetLatestSnapshot(ctx, "site.yml")
	require.NoError(t, err)
	assert.Equal(t, snapA.ID, latest.ID)
}

func TestManagerGetLatestSnapshotFindsPriorRunEvenWithFreshSessionID(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first := mgr.StartSession("deploy.yml")
	first.RecordTask(NewTaskStateRecord("t1", "copy", "web1", "copy").Complete(StatusChanged))
	firstSnap, err := mgr.EndSession(ctx, first.ID, "first run")
	require.NoError(t, err)

	// A second run of the same playbook always gets a brand new session ID.
	second := mgr.StartSession("deploy.yml")
	require.NotEqual(t, first.ID, second.ID)
	second.RecordTask(NewTaskStateRecord("t1", "copy", "web1", "copy").Complete(StatusOk))
	secondSnap, err := mgr.EndSession(ctx, second.ID, "second run")
	require.NoError(t, err)

	latest, err := mgr.GetLatestSnapshot(ctx, "deploy.yml")
	require.NoError(t, err)
	assert.Equal(t, secondSnap.ID, latest.ID)
	assert.NotEqual(t, firstSnap.ID, latest.ID)
}

func TestManagerGetLatestSnapshotErrorsForUnknownPlaybook(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.GetLatestSnapshot(context.Background(), "never-run.yml")
	assert.Error(t, err)
}

func TestManagerCleanupBeforeRemovesOldSnapshotsAcrossPlaybooks(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	old := &StateSnapshot{ID: "old-1", Playbook: "site.yml", CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &StateSnapshot{ID: "recent-1", Playbook: "site.yml", CreatedAt: time.Now()}
	require.NoError(t, mgr.SaveSnapshot(ctx, old))
	require.NoError(t, mgr.SaveSnapshot(ctx, recent))

	n, err := mgr.CleanupBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snaps, err := mgr.ListSnapshots(ctx, "site.yml")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "recent-1", snaps[0].ID)
}

func TestMemoryPersistenceListSnapshotsFiltersByPlaybook(t *testing.T) {
	p := NewMemoryPersistence()
	ctx := context.Background()
	require.NoError(t, p.SaveSnapshot(ctx, &StateSnapshot{ID: "a", Playbook: "site.yml", CreatedAt: time.Now()}))
	require.NoError(t, p.SaveSnapshot(ctx, &StateSnapshot{ID: "b", Playbook: "other.yml", CreatedAt: time.Now()}))

	snaps, err := p.ListSnapshots(ctx, "site.yml")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].ID)
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// SQLitePersistence stores snapshots in a single-table sqlite database,
// the full snapshot serialized as a JSON blob column alongside the
// playbook and created_at columns that ListSnapshots filters and orders
// by; session_id and playbook are indexed.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (creating if needed) a sqlite database at path.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StateError{Op: "init_sqlite_persistence", Message: "open db", Cause: err}
	}
	const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	playbook TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_playbook ON snapshots(playbook);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &types.StateError{Op: "init_sqlite_persistence", Message: "create schema", Cause: err}
	}
	return &SQLitePersistence{db: db}, nil
}

func (p *SQLitePersistence) SaveSnapshot(ctx context.Context, snap *StateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "marshal", Cause: err}
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, session_id, playbook, created_at, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, created_at = excluded.created_at, playbook = excluded.playbook`,
		snap.ID, snap.SessionID, snap.Playbook, snap.CreatedAt.Unix(), string(data))
	if err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "insert", Cause: err}
	}
	return nil
}

func (p *SQLitePersistence) LoadSnapshot(ctx context.Context, id string) (*StateSnapshot, error) {
	row := p.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, &types.StateError{Op: "load_snapshot", Message: "not found: " + id}
		}
		return nil, &types.StateError{Op: "load_snapshot", Message: "query", Cause: err}
	}
	var snap StateSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, &types.StateError{Op: "load_snapshot", Message: "unmarshal", Cause: err}
	}
	return &snap, nil
}

func (p *SQLitePersistence) ListSnapshots(ctx context.Context, playbook string) ([]*StateSnapshot, error) {
	var rows *sql.Rows
	var err error
	if playbook == "" {
		rows, err = p.db.QueryContext(ctx, `SELECT data FROM snapshots ORDER BY created_at ASC`)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT data FROM snapshots WHERE playbook = ? ORDER BY created_at ASC`, playbook)
	}
	if err != nil {
		return nil, &types.StateError{Op: "list_snapshots", Message: "query", Cause: err}
	}
	defer rows.Close()

	var out []*StateSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &types.StateError{Op: "list_snapshots", Message: "scan", Cause: err}
		}
		var snap StateSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (p *SQLitePersistence) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return &types.StateError{Op: "delete_snapshot", Message: "delete", Cause: err}
	}
	return nil
}

func (p *SQLitePersistence) CleanupBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM snapshots WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, &types.StateError{Op: "cleanup_before", Message: "delete", Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StateError{Op: "cleanup_before", Message: "rows affected", Cause: err}
	}
	return int(n), nil
}

func (p *SQLitePersistence) Close() error { return p.db.Close() }

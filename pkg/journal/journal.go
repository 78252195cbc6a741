// Package journal persists bot snapshots to SQLite so a run can be
// inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"gridbot/pkg/bot"
)

// Journal is an append-only log of snapshots.
type Journal struct {
	db *sql.DB
}

func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("journal: failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to create snapshots table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends a snapshot. The full snapshot is stored as JSON;
// timestamp and symbol are lifted into columns for querying.
func (j *Journal) Record(ctx context.Context, snap bot.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("journal: failed to marshal snapshot: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO snapshots (ts, symbol, payload) VALUES (?, ?, ?)",
		snap.Timestamp.UnixMilli(), snap.Symbol, payload,
	)
	if err != nil {
		return fmt.Errorf("journal: failed to insert snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit snapshots, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]bot.Snapshot, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT payload FROM snapshots ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []bot.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("journal: failed to scan snapshot: %w", err)
		}
		var snap bot.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("journal: failed to unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows iteration error: %w", err)
	}

	return snaps, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

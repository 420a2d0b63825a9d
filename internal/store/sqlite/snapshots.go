package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// SaveSnapshotJSON stores a JSON-encoded engine snapshot and prunes all but
// the most recent KeepSnapshots rows.
func (s *Store) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`,
		s.keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshotJSON loads the most recent snapshot. Returns nil, nil
// when none has been saved.
func (s *Store) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM indicator_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// SnapshotCount returns the number of retained snapshots.
func (s *Store) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicator_snapshots`).Scan(&n)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Get returns the snapshot stored under key. found is false when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return []byte(data), true, nil
}

// Set upserts the snapshot for key, bumping its version.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, data) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, version = version + 1
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("set snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes the snapshot for key. Change history is kept.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// SnapshotVersion returns how many times key has been written (0 if never).
func (s *Store) SnapshotVersion(ctx context.Context, key string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM snapshots WHERE key = ?`, key).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot version %s: %w", key, err)
	}
	return version, nil
}

// ListKeys returns snapshot keys with the given prefix in byte order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM snapshots
		WHERE substr(key, 1, ?) = ?
		ORDER BY key COLLATE BINARY ASC
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

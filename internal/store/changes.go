package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
)

// RecordChange appends one field write to the history.
// A duplicate seq is silently ignored.
func (s *Store) RecordChange(ctx context.Context, c formstate.Change) error {
	value, err := form.MarshalCanonicalValue(c.Value)
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO changes (seq, key, source, field_id, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, c.Seq, c.Key, string(c.Source), c.FieldID, string(value))
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	return nil
}

// ReadChanges returns the history for key ordered by seq ASC. An empty key
// returns history for every form. Returns an empty slice (not nil) if none.
func (s *Store) ReadChanges(ctx context.Context, key string) ([]formstate.Change, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if key == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, key, source, field_id, value FROM changes
			ORDER BY seq ASC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, key, source, field_id, value FROM changes
			WHERE key = ?
			ORDER BY seq ASC
		`, key)
	}
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []formstate.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty history.
// Used to resume formstate.Clock across process restarts.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func scanChange(rows *sql.Rows) (formstate.Change, error) {
	var (
		c      formstate.Change
		source string
		value  string
	)
	if err := rows.Scan(&c.Seq, &c.Key, &source, &c.FieldID, &value); err != nil {
		return formstate.Change{}, fmt.Errorf("scan change: %w", err)
	}
	c.Source = formstate.Source(source)
	if err := c.Value.UnmarshalJSON([]byte(value)); err != nil {
		return formstate.Change{}, fmt.Errorf("decode change %d value: %w", c.Seq, err)
	}
	return c, nil
}

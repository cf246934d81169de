package store

import (
	"context"
	"fmt"

	"github.com/roach88/hearth/internal/task"
)

// ListAll returns every pending task ordered by seq ascending.
//
// The result is read by a single SELECT, which SQLite evaluates against one
// snapshot, so a concurrent Append is either fully visible or not at all.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) ListAll(ctx context.Context) ([]task.Task, error) {
	if s.db == nil {
		return nil, storageErr("list", 0, errClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, operation, scope_id, entity_id, payload, enqueued_at
		FROM pending_tasks
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, storageErr("list", 0, err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("list", 0, err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", 0, fmt.Errorf("iterate tasks: %w", err))
	}

	return tasks, nil
}

// ListBucket returns the pending tasks of one fold bucket ordered by seq.
// Used by inspection surfaces; the processor always works from ListAll.
func (s *Store) ListBucket(ctx context.Context, key task.BucketKey) ([]task.Task, error) {
	if s.db == nil {
		return nil, storageErr("list", 0, errClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, operation, scope_id, entity_id, payload, enqueued_at
		FROM pending_tasks
		WHERE scope_id = ? AND entity_id = ?
		ORDER BY seq ASC
	`, key.ScopeID, key.EntityID)
	if err != nil {
		return nil, storageErr("list", 0, err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("list", 0, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", 0, fmt.Errorf("iterate tasks: %w", err))
	}
	return tasks, nil
}

// Count returns the number of pending tasks.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storageErr("count", 0, errClosed)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_tasks`).Scan(&n); err != nil {
		return 0, storageErr("count", 0, err)
	}
	return n, nil
}

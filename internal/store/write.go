package store

import (
	"context"
	"fmt"

	"github.com/roach88/hearth/internal/task"
)

// Append stores a draft and returns its newly assigned seq.
//
// The draft is validated first; an invalid draft returns an error wrapping
// task.ErrInvalid and nothing is stored. Any database failure returns a
// *StorageError: Append never drops a task silently.
func (s *Store) Append(ctx context.Context, d task.Draft) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	if s.db == nil {
		return 0, storageErr("append", 0, errClosed)
	}

	payloadJSON, err := marshalPayload(d.Payload)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_tasks
		(operation, scope_id, entity_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(d.Op),
		d.ScopeID,
		nullableEntity(d.EntityID),
		payloadJSON,
		d.EnqueuedAt,
	)
	if err != nil {
		return 0, storageErr("append", 0, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("append", 0, fmt.Errorf("last insert id: %w", err))
	}
	return seq, nil
}

// Remove deletes one task. Removing an absent seq is a no-op.
func (s *Store) Remove(ctx context.Context, seq int64) error {
	if s.db == nil {
		return storageErr("remove", seq, errClosed)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_tasks WHERE seq = ?`, seq); err != nil {
		return storageErr("remove", seq, err)
	}
	return nil
}

// RemoveAll deletes every listed seq in one transaction: either all of a
// folded task's originals leave the queue or none do. Absent seqs are ignored.
func (s *Store) RemoveAll(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	if s.db == nil {
		return storageErr("remove", 0, errClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("remove", 0, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM pending_tasks WHERE seq = ?`)
	if err != nil {
		return storageErr("remove", 0, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, seq := range seqs {
		if _, err := stmt.ExecContext(ctx, seq); err != nil {
			return storageErr("remove", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("remove", 0, fmt.Errorf("commit: %w", err))
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/task"
)

// marshalPayload converts a payload to JSON TEXT for storage. Strings are
// kept byte for byte; NFC normalisation is a display concern only.
func marshalPayload(obj payload.Object) (string, error) {
	data, err := payload.Encode(obj)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON TEXT back into a payload.
// Integers stay exact; see payload.Decode.
func unmarshalPayload(data string) (payload.Object, error) {
	obj, err := payload.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// nullableEntity maps the "absent" entity id to SQL NULL.
func nullableEntity(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one pending_tasks row.
// Column order: seq, operation, scope_id, entity_id, payload, enqueued_at.
func scanTask(row scanner) (task.Task, error) {
	var (
		t           task.Task
		op          string
		entityID    sql.NullString
		payloadText string
	)
	if err := row.Scan(&t.Seq, &op, &t.ScopeID, &entityID, &payloadText, &t.EnqueuedAt); err != nil {
		return task.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Op = task.Operation(op)
	t.EntityID = entityID.String

	obj, err := unmarshalPayload(payloadText)
	if err != nil {
		return task.Task{}, fmt.Errorf("task seq=%d: %w", t.Seq, err)
	}
	t.Payload = obj
	return t, nil
}

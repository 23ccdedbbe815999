package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

func (sb *sqliteBackend) EmitLogEvent(ctx context.Context, taskID string, message string, metadata map[string]any) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sb.insertEvent(ctx, tx, taskID, core.EventTypeLog, core.NewLogBody(message, metadata)); err != nil {
		return err
	}

	return tx.Commit()
}

func (sb *sqliteBackend) ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := sb.getStatus(ctx, tx, taskID); err != nil {
		return nil, err
	}

	var after int64
	if afterEventID != nil {
		after = *afterEventID
	}

	rows, err := tx.QueryContext(
		ctx,
		"SELECT id, event_type, body, created_at FROM `task_events` WHERE task_id = ? AND id > ? ORDER BY id",
		taskID,
		after,
	)
	if err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}
	defer rows.Close()

	events := make([]*core.TaskEvent, 0)
	for rows.Next() {
		e := &core.TaskEvent{TaskID: taskID}
		var body string
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.Type, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if err := core.UnmarshalJSON([]byte(body), &e.Body); err != nil {
			return nil, fmt.Errorf("unmarshaling event body: %w", err)
		}

		e.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	return events, nil
}

func (sb *sqliteBackend) insertEvent(ctx context.Context, tx *sql.Tx, taskID string, eventType core.EventType, body core.EventBody) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling event body: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		"INSERT INTO `task_events` (task_id, event_type, body, created_at) SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM `tasks` WHERE id = ?)",
		taskID,
		string(eventType),
		string(b),
		sb.now().UnixMilli(),
		taskID,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking inserted event: %w", err)
	} else if n == 0 {
		return backend.ErrTaskNotFound
	}

	return nil
}

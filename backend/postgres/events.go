package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

func (pb *postgresBackend) EmitLogEvent(ctx context.Context, taskID string, message string, metadata map[string]any) error {
	tx, err := pb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := pb.insertEvent(ctx, tx, taskID, core.EventTypeLog, core.NewLogBody(message, metadata)); err != nil {
		return err
	}

	return tx.Commit()
}

func (pb *postgresBackend) ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error) {
	var exists int
	if err := pb.db.QueryRowContext(ctx, "SELECT 1 FROM scaffolder.tasks WHERE id = $1", taskID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrTaskNotFound
		}

		return nil, fmt.Errorf("getting task: %w", err)
	}

	var after int64
	if afterEventID != nil {
		after = *afterEventID
	}

	rows, err := pb.db.QueryContext(
		ctx,
		"SELECT id, event_type, body, created_at FROM scaffolder.task_events WHERE task_id = $1 AND id > $2 ORDER BY id",
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

		if err := rows.Scan(&e.ID, &e.Type, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if err := core.UnmarshalJSON([]byte(body), &e.Body); err != nil {
			return nil, fmt.Errorf("unmarshaling event body: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	return events, nil
}

func (pb *postgresBackend) insertEvent(ctx context.Context, tx *sql.Tx, taskID string, eventType core.EventType, body core.EventBody) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling event body: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO scaffolder.task_events (task_id, event_type, body, created_at)
			SELECT $1::varchar, $2::varchar, $3::text, $4::timestamptz WHERE EXISTS (SELECT 1 FROM scaffolder.tasks WHERE id = $1)`,
		taskID,
		string(eventType),
		string(data),
		pb.now(),
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

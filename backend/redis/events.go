package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

func (rb *redisBackend) EmitLogEvent(ctx context.Context, taskID string, message string, metadata map[string]any) error {
	b, err := json.Marshal(core.NewLogBody(message, metadata))
	if err != nil {
		return fmt.Errorf("marshaling event body: %w", err)
	}

	prefix := rb.options.KeyPrefix

	id, err := addEventCmd.Run(ctx, rb.rdb,
		[]string{taskKey(prefix, taskID), taskEventsKey(prefix, taskID), eventSequenceKey(prefix)},
		string(core.EventTypeLog),
		string(b),
		rb.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("adding log event: %w", err)
	}

	if id == 0 {
		return backend.ErrTaskNotFound
	}

	return nil
}

func (rb *redisBackend) ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error) {
	prefix := rb.options.KeyPrefix

	exists, err := rb.rdb.Exists(ctx, taskKey(prefix, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checking task: %w", err)
	}

	if exists == 0 {
		return nil, backend.ErrTaskNotFound
	}

	start := "-"
	if afterEventID != nil {
		start = eventStreamID(*afterEventID + 1)
	}

	msgs, err := rb.rdb.XRange(ctx, taskEventsKey(prefix, taskID), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	events := make([]*core.TaskEvent, 0, len(msgs))
	for _, msg := range msgs {
		id, err := eventIDFromStreamID(msg.ID)
		if err != nil {
			return nil, err
		}

		e := &core.TaskEvent{
			ID:     id,
			TaskID: taskID,
			Type:   core.EventType(msg.Values["type"].(string)),
		}

		if err := core.UnmarshalJSON([]byte(msg.Values["body"].(string)), &e.Body); err != nil {
			return nil, fmt.Errorf("unmarshaling event body: %w", err)
		}

		createdAt, err := strconv.ParseInt(msg.Values["created_at"].(string), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)

		events = append(events, e)
	}

	return events, nil
}

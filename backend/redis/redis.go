package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	// Default options
	bo := backend.ApplyOptions()
	options := &RedisOptions{
		Options: &bo,
	}

	for _, opt := range opts {
		opt(options)
	}

	rb := &redisBackend{
		rdb:     client,
		options: options,
	}

	// Preload scripts here. Usually redis-go attempts to execute them first, and the if redis doesn't know
	// them, loads them. This doesn't work when using (transactional) pipelines, so eagerly load them on startup.
	ctx := context.Background()
	cmds := map[string]*redis.StringCmd{
		"createTaskCmd":    createTaskCmd.Load(ctx, rb.rdb),
		"claimTaskCmd":     claimTaskCmd.Load(ctx, rb.rdb),
		"heartbeatTaskCmd": heartbeatTaskCmd.Load(ctx, rb.rdb),
		"completeTaskCmd":  completeTaskCmd.Load(ctx, rb.rdb),
		"cancelTaskCmd":    cancelTaskCmd.Load(ctx, rb.rdb),
		"addEventCmd":      addEventCmd.Load(ctx, rb.rdb),
	}
	for name, cmd := range cmds {
		if cmd.Err() != nil {
			return nil, fmt.Errorf("loading redis script: %v %w", name, cmd.Err())
		}
	}

	return rb, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

func (rb *redisBackend) Options() *backend.Options {
	return rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}

func (rb *redisBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
	specJson, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshaling spec: %w", err)
	}

	var secretsJson string
	if secrets != nil {
		s, err := json.Marshal(secrets)
		if err != nil {
			return "", fmt.Errorf("marshaling secrets: %w", err)
		}

		secretsJson = string(s)
	}

	id := uuid.NewString()
	prefix := rb.options.KeyPrefix

	if err := createTaskCmd.Run(ctx, rb.rdb,
		[]string{taskKey(prefix, id), openTasksKey(prefix), taskSequenceKey(prefix)},
		id,
		string(specJson),
		secretsJson,
		rb.now().UnixMilli(),
	).Err(); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	return id, nil
}

func (rb *redisBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	now := rb.now()
	prefix := rb.options.KeyPrefix

	id, err := claimTaskCmd.Run(ctx, rb.rdb,
		[]string{openTasksKey(prefix), processingTasksKey(prefix)},
		now.UnixMilli(),
		now.Add(-rb.options.HeartbeatTimeout).UnixMilli(),
		prefix,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("claiming task: %w", err)
	}

	t, err := rb.readTask(ctx, id)
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (rb *redisBackend) HeartbeatTask(ctx context.Context, taskID string) error {
	prefix := rb.options.KeyPrefix

	res, err := heartbeatTaskCmd.Run(ctx, rb.rdb,
		[]string{taskKey(prefix, taskID), processingTasksKey(prefix)},
		taskID,
		rb.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}

	return resultToError(res)
}

func (rb *redisBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete task with status %q", status)
	}

	var eventBody string
	if status != core.TaskStatusCancelled {
		b, err := json.Marshal(core.NewCompletionEventBody(body))
		if err != nil {
			return fmt.Errorf("marshaling event body: %w", err)
		}

		eventBody = string(b)
	}

	prefix := rb.options.KeyPrefix

	res, err := completeTaskCmd.Run(ctx, rb.rdb,
		[]string{taskKey(prefix, taskID), processingTasksKey(prefix), taskEventsKey(prefix, taskID), eventSequenceKey(prefix)},
		taskID,
		string(status),
		eventBody,
		rb.now().UnixMilli(),
		int64(rb.options.AutoExpiration.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	return resultToError(res)
}

func (rb *redisBackend) CancelTask(ctx context.Context, taskID string) error {
	b, err := json.Marshal(core.NewLogBody("Task was cancelled", nil))
	if err != nil {
		return fmt.Errorf("marshaling event body: %w", err)
	}

	prefix := rb.options.KeyPrefix

	res, err := cancelTaskCmd.Run(ctx, rb.rdb,
		[]string{
			taskKey(prefix, taskID),
			openTasksKey(prefix),
			processingTasksKey(prefix),
			taskEventsKey(prefix, taskID),
			eventSequenceKey(prefix),
		},
		taskID,
		string(b),
		rb.now().UnixMilli(),
		int64(rb.options.AutoExpiration.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}

	return resultToError(res)
}

func (rb *redisBackend) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	t, err := rb.readTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// Secrets are only handed out to the worker claiming the task
	t.Secrets = nil

	return t, nil
}

func (rb *redisBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	prefix := rb.options.KeyPrefix

	p := rb.rdb.Pipeline()
	openCmd := p.ZCard(ctx, openTasksKey(prefix))
	processingCmd := p.ZCard(ctx, processingTasksKey(prefix))
	if _, err := p.Exec(ctx); err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}

	return &backend.Stats{
		OpenTasks:       openCmd.Val(),
		ProcessingTasks: processingCmd.Val(),
	}, nil
}

func (rb *redisBackend) readTask(ctx context.Context, taskID string) (*core.Task, error) {
	fields, err := rb.rdb.HGetAll(ctx, taskKey(rb.options.KeyPrefix, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading task: %w", err)
	}

	if len(fields) == 0 {
		return nil, backend.ErrTaskNotFound
	}

	t := &core.Task{
		ID:     fields["id"],
		Status: core.TaskStatus(fields["status"]),
		Spec:   &core.TaskSpec{},
	}

	if err := core.UnmarshalJSON([]byte(fields["spec"]), t.Spec); err != nil {
		return nil, fmt.Errorf("unmarshaling spec: %w", err)
	}

	if s, ok := fields["secrets"]; ok {
		if err := json.Unmarshal([]byte(s), &t.Secrets); err != nil {
			return nil, fmt.Errorf("unmarshaling secrets: %w", err)
		}
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing creation time: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdAt)

	if hb, ok := fields["last_heartbeat_at"]; ok {
		ms, err := strconv.ParseInt(hb, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing heartbeat: %w", err)
		}

		lastHeartbeatAt := time.UnixMilli(ms)
		t.LastHeartbeatAt = &lastHeartbeatAt
	}

	return t, nil
}

func (rb *redisBackend) now() time.Time {
	return rb.options.Clock.Now()
}

func resultToError(res int64) error {
	switch res {
	case 0:
		return backend.ErrTaskNotFound
	case -1:
		return backend.ErrTaskNotClaimed
	}

	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewInMemoryBackend(opts ...option) *sqliteBackend {
	options := newOptions(opts)
	b := newSqliteBackend(inMemoryDSN, options)

	// An in-memory database only lives as long as its single connection
	b.db.SetMaxOpenConns(1)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	options := newOptions(opts)
	b := newSqliteBackend(options.fileDSN(path), options)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

func newSqliteBackend(dsn string, options *options) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	return &sqliteBackend{
		db:      db,
		options: options,
	}
}

type sqliteBackend struct {
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

// Migrate applies any pending database migrations.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := sqlite.WithInstance(sb.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
	specJson, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshaling spec: %w", err)
	}

	var secretsJson *string
	if secrets != nil {
		s, err := json.Marshal(secrets)
		if err != nil {
			return "", fmt.Errorf("marshaling secrets: %w", err)
		}

		ss := string(s)
		secretsJson = &ss
	}

	id := uuid.NewString()

	if _, err := sb.db.ExecContext(
		ctx,
		"INSERT INTO `tasks` (id, spec, secrets, status, created_at) VALUES (?, ?, ?, ?, ?)",
		id,
		string(specJson),
		secretsJson,
		string(core.TaskStatusOpen),
		sb.now().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}

	return id, nil
}

func (sb *sqliteBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	now := sb.now()
	staleBefore := now.Add(-sb.options.HeartbeatTimeout)

	row := sb.db.QueryRowContext(
		ctx,
		`UPDATE tasks SET status = ?, last_heartbeat_at = ?
			WHERE rowid = (
				SELECT rowid FROM tasks
				WHERE status = ? OR (status = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at <= ?))
				ORDER BY created_at, seq
				LIMIT 1
			) RETURNING id, spec, secrets, status, created_at, last_heartbeat_at`,
		string(core.TaskStatusProcessing),
		now.UnixMilli(),
		string(core.TaskStatusOpen),
		string(core.TaskStatusProcessing),
		staleBefore.UnixMilli(),
	)

	t, err := scanTask(row, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("claiming task: %w", err)
	}

	return t, nil
}

func (sb *sqliteBackend) HeartbeatTask(ctx context.Context, taskID string) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE `tasks` SET last_heartbeat_at = ? WHERE id = ? AND status = ?",
		sb.now().UnixMilli(),
		taskID,
		string(core.TaskStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking heartbeat update: %w", err)
	} else if n == 1 {
		return nil
	}

	if _, err := sb.getStatus(ctx, sb.db, taskID); err != nil {
		return err
	}

	return backend.ErrTaskNotClaimed
}

func (sb *sqliteBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete task with status %q", status)
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := sb.getStatus(ctx, tx, taskID)
	if err != nil {
		return err
	}

	switch {
	case current.Terminal():
		return nil
	case current != core.TaskStatusProcessing:
		return backend.ErrTaskNotClaimed
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `tasks` SET status = ? WHERE id = ? AND status = ?",
		string(status),
		taskID,
		string(core.TaskStatusProcessing),
	); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}

	if status != core.TaskStatusCancelled {
		if err := sb.insertEvent(ctx, tx, taskID, core.EventTypeCompletion, core.NewCompletionEventBody(body)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task completion: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) CancelTask(ctx context.Context, taskID string) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := sb.getStatus(ctx, tx, taskID)
	if err != nil {
		return err
	}

	if current.Terminal() {
		return nil
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `tasks` SET status = ? WHERE id = ?",
		string(core.TaskStatusCancelled),
		taskID,
	); err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}

	if err := sb.insertEvent(ctx, tx, taskID, core.EventTypeCancelled, core.NewLogBody("Task was cancelled", nil)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task cancellation: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT id, spec, secrets, status, created_at, last_heartbeat_at FROM `tasks` WHERE id = ?",
		taskID,
	)

	t, err := scanTask(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrTaskNotFound
		}

		return nil, fmt.Errorf("getting task: %w", err)
	}

	return t, nil
}

func (sb *sqliteBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT status, COUNT(*) FROM `tasks` WHERE status IN (?, ?) GROUP BY status",
		string(core.TaskStatusOpen),
		string(core.TaskStatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()

	s := &backend.Stats{}
	for rows.Next() {
		var status core.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning task count: %w", err)
		}

		switch status {
		case core.TaskStatusOpen:
			s.OpenTasks = count
		case core.TaskStatusProcessing:
			s.ProcessingTasks = count
		}
	}

	return s, rows.Err()
}

func (sb *sqliteBackend) now() time.Time {
	return sb.options.Clock.Now()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (sb *sqliteBackend) getStatus(ctx context.Context, q querier, taskID string) (core.TaskStatus, error) {
	var status core.TaskStatus
	if err := q.QueryRowContext(ctx, "SELECT status FROM `tasks` WHERE id = ?", taskID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", backend.ErrTaskNotFound
		}

		return "", fmt.Errorf("getting task status: %w", err)
	}

	return status, nil
}

func scanTask(row *sql.Row, withSecrets bool) (*core.Task, error) {
	var t core.Task
	var spec string
	var secrets sql.NullString
	var createdAt int64
	var lastHeartbeatAt sql.NullInt64

	if err := row.Scan(&t.ID, &spec, &secrets, &t.Status, &createdAt, &lastHeartbeatAt); err != nil {
		return nil, err
	}

	t.Spec = &core.TaskSpec{}
	if err := core.UnmarshalJSON([]byte(spec), t.Spec); err != nil {
		return nil, fmt.Errorf("unmarshaling spec: %w", err)
	}

	if withSecrets && secrets.Valid {
		if err := json.Unmarshal([]byte(secrets.String), &t.Secrets); err != nil {
			return nil, fmt.Errorf("unmarshaling secrets: %w", err)
		}
	}

	t.CreatedAt = time.UnixMilli(createdAt)
	if lastHeartbeatAt.Valid {
		hb := time.UnixMilli(lastHeartbeatAt.Int64)
		t.LastHeartbeatAt = &hb
	}

	return &t, nil
}

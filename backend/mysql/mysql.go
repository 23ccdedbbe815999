package mysql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	options := newOptions(true, opts)
	dsn := options.dsn(host, port, user, password, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	options.configure(db)

	b := &mysqlBackend{
		dsn:     dsn,
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type mysqlBackend struct {
	dsn     string
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*mysqlBackend)(nil)

func (b *mysqlBackend) Options() *backend.Options {
	return b.options.Options
}

func (b *mysqlBackend) Close() error {
	return b.db.Close()
}

// Migrate applies any pending database migrations.
func (b *mysqlBackend) Migrate() error {
	schemaDsn := b.dsn + "&multiStatements=true"
	db, err := sql.Open("mysql", schemaDsn)
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing schema database: %w", err)
	}

	return nil
}

func (b *mysqlBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
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

	if _, err := b.db.ExecContext(
		ctx,
		"INSERT INTO `tasks` (id, spec, secrets, status, created_at) VALUES (?, ?, ?, ?, ?)",
		id,
		string(specJson),
		secretsJson,
		string(core.TaskStatusOpen),
		b.now(),
	); err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}

	return id, nil
}

func (b *mysqlBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := b.now()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id, spec, secrets, status, created_at, last_heartbeat_at FROM tasks
			WHERE status = ? OR (status = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at <= ?))
			ORDER BY created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
		string(core.TaskStatusOpen),
		string(core.TaskStatusProcessing),
		now.Add(-b.options.HeartbeatTimeout),
	)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("finding task to claim: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `tasks` SET status = ?, last_heartbeat_at = ? WHERE id = ?",
		string(core.TaskStatusProcessing),
		now,
		t.ID,
	); err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task claim: %w", err)
	}

	t.Status = core.TaskStatusProcessing
	t.LastHeartbeatAt = &now

	return t, nil
}

func (b *mysqlBackend) HeartbeatTask(ctx context.Context, taskID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := getStatus(ctx, tx, taskID)
	if err != nil {
		return err
	}

	if status != core.TaskStatusProcessing {
		return backend.ErrTaskNotClaimed
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `tasks` SET last_heartbeat_at = ? WHERE id = ?",
		b.now(),
		taskID,
	); err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}

	return tx.Commit()
}

func (b *mysqlBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete task with status %q", status)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getStatus(ctx, tx, taskID)
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
		"UPDATE `tasks` SET status = ? WHERE id = ?",
		string(status),
		taskID,
	); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}

	if status != core.TaskStatusCancelled {
		if err := b.insertEvent(ctx, tx, taskID, core.EventTypeCompletion, core.NewCompletionEventBody(body)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task completion: %w", err)
	}

	return nil
}

func (b *mysqlBackend) CancelTask(ctx context.Context, taskID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getStatus(ctx, tx, taskID)
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

	if err := b.insertEvent(ctx, tx, taskID, core.EventTypeCancelled, core.NewLogBody("Task was cancelled", nil)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task cancellation: %w", err)
	}

	return nil
}

func (b *mysqlBackend) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	row := b.db.QueryRowContext(
		ctx,
		"SELECT id, spec, secrets, status, created_at, last_heartbeat_at FROM `tasks` WHERE id = ?",
		taskID,
	)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrTaskNotFound
		}

		return nil, fmt.Errorf("getting task: %w", err)
	}

	// Secrets are only handed out to the worker claiming the task
	t.Secrets = nil

	return t, nil
}

func (b *mysqlBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	rows, err := b.db.QueryContext(
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

func (b *mysqlBackend) now() time.Time {
	return b.options.Clock.Now().UTC().Truncate(time.Millisecond)
}

func getStatus(ctx context.Context, tx *sql.Tx, taskID string) (core.TaskStatus, error) {
	var status core.TaskStatus
	if err := tx.QueryRowContext(ctx, "SELECT status FROM `tasks` WHERE id = ? FOR UPDATE", taskID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", backend.ErrTaskNotFound
		}

		return "", fmt.Errorf("getting task status: %w", err)
	}

	return status, nil
}

func scanTask(row *sql.Row) (*core.Task, error) {
	var t core.Task
	var spec string
	var secrets sql.NullString
	var lastHeartbeatAt sql.NullTime

	if err := row.Scan(&t.ID, &spec, &secrets, &t.Status, &t.CreatedAt, &lastHeartbeatAt); err != nil {
		return nil, err
	}

	t.Spec = &core.TaskSpec{}
	if err := core.UnmarshalJSON([]byte(spec), t.Spec); err != nil {
		return nil, fmt.Errorf("unmarshaling spec: %w", err)
	}

	if secrets.Valid {
		if err := json.Unmarshal([]byte(secrets.String), &t.Secrets); err != nil {
			return nil, fmt.Errorf("unmarshaling secrets: %w", err)
		}
	}

	if lastHeartbeatAt.Valid {
		t.LastHeartbeatAt = &lastHeartbeatAt.Time
	}

	return &t, nil
}

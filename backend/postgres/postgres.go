package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewPostgresBackend(host string, port int, user, password, database string, opts ...option) *postgresBackend {
	options := newOptions(true, opts)

	db, err := sql.Open("pgx", options.dsn(host, port, user, password, database))
	if err != nil {
		panic(err)
	}

	options.configure(db)

	b := &postgresBackend{
		db:             db,
		options:        options,
		ownsConnection: true,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

// NewPostgresBackendWithDB creates a new Postgres backend using an existing database connection.
// When using this constructor, the backend will not close the database connection when Close() is called.
func NewPostgresBackendWithDB(db *sql.DB, opts ...option) *postgresBackend {
	options := newOptions(false, opts)

	b := &postgresBackend{
		db:             db,
		options:        options,
		ownsConnection: false,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type postgresBackend struct {
	db             *sql.DB
	options        *options
	ownsConnection bool
}

var _ backend.Backend = (*postgresBackend)(nil)

func (pb *postgresBackend) Options() *backend.Options {
	return pb.options.Options
}

func (pb *postgresBackend) Close() error {
	if !pb.ownsConnection {
		return nil
	}

	return pb.db.Close()
}

// Migrate applies any pending database migrations.
func (pb *postgresBackend) Migrate() error {
	dbi, err := postgres.WithInstance(pb.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "postgres", dbi)
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

func (pb *postgresBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
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

	if _, err := pb.db.ExecContext(
		ctx,
		"INSERT INTO scaffolder.tasks (id, spec, secrets, status, created_at) VALUES ($1, $2, $3, $4, $5)",
		id,
		string(specJson),
		secretsJson,
		string(core.TaskStatusOpen),
		pb.now(),
	); err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}

	return id, nil
}

func (pb *postgresBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	tx, err := pb.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := pb.now()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id, spec, secrets, status, created_at, last_heartbeat_at FROM scaffolder.tasks t
			WHERE t.status = $1 OR (t.status = $2 AND (t.last_heartbeat_at IS NULL OR t.last_heartbeat_at <= $3))
			ORDER BY t.created_at, t.seq
			LIMIT 1
			FOR UPDATE OF t SKIP LOCKED`,
		string(core.TaskStatusOpen),
		string(core.TaskStatusProcessing),
		now.Add(-pb.options.HeartbeatTimeout),
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
		"UPDATE scaffolder.tasks SET status = $1, last_heartbeat_at = $2 WHERE id = $3",
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

func (pb *postgresBackend) HeartbeatTask(ctx context.Context, taskID string) error {
	res, err := pb.db.ExecContext(
		ctx,
		"UPDATE scaffolder.tasks SET last_heartbeat_at = $1 WHERE id = $2 AND status = $3",
		pb.now(),
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

	var status core.TaskStatus
	if err := pb.db.QueryRowContext(ctx, "SELECT status FROM scaffolder.tasks WHERE id = $1", taskID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.ErrTaskNotFound
		}

		return fmt.Errorf("getting task status: %w", err)
	}

	return backend.ErrTaskNotClaimed
}

func (pb *postgresBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete task with status %q", status)
	}

	tx, err := pb.db.BeginTx(ctx, nil)
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
		"UPDATE scaffolder.tasks SET status = $1 WHERE id = $2",
		string(status),
		taskID,
	); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}

	if status != core.TaskStatusCancelled {
		if err := pb.insertEvent(ctx, tx, taskID, core.EventTypeCompletion, core.NewCompletionEventBody(body)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task completion: %w", err)
	}

	return nil
}

func (pb *postgresBackend) CancelTask(ctx context.Context, taskID string) error {
	tx, err := pb.db.BeginTx(ctx, nil)
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
		"UPDATE scaffolder.tasks SET status = $1 WHERE id = $2",
		string(core.TaskStatusCancelled),
		taskID,
	); err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}

	if err := pb.insertEvent(ctx, tx, taskID, core.EventTypeCancelled, core.NewLogBody("Task was cancelled", nil)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task cancellation: %w", err)
	}

	return nil
}

func (pb *postgresBackend) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	row := pb.db.QueryRowContext(
		ctx,
		"SELECT id, spec, secrets, status, created_at, last_heartbeat_at FROM scaffolder.tasks WHERE id = $1",
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

func (pb *postgresBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	rows, err := pb.db.QueryContext(
		ctx,
		"SELECT status, COUNT(*) FROM scaffolder.tasks WHERE status IN ($1, $2) GROUP BY status",
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

func (pb *postgresBackend) now() time.Time {
	return pb.options.Clock.Now().UTC().Truncate(time.Microsecond)
}

func getStatus(ctx context.Context, tx *sql.Tx, taskID string) (core.TaskStatus, error) {
	var status core.TaskStatus
	if err := tx.QueryRowContext(ctx, "SELECT status FROM scaffolder.tasks WHERE id = $1 FOR UPDATE", taskID).Scan(&status); err != nil {
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

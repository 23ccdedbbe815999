package mysql

import (
	"database/sql"
	"fmt"

	"github.com/cschleiden/go-scaffolder/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or updates the task tables when the store is opened.
	ApplyMigrations bool

	// MaxOpenConns limits the connection pool. Zero keeps the driver default.
	MaxOpenConns int

	configureDB func(db *sql.DB)
}

type option func(*options)

func newOptions(applyMigrations bool, opts []option) *options {
	bo := backend.ApplyOptions()
	o := &options{
		Options:         &bo,
		ApplyMigrations: applyMigrations,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// dsn returns the connection string for the task database. Timestamps are stored as UTC.
func (o *options) dsn(host string, port int, user, password, database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true&loc=UTC", user, password, host, port, database)
}

func (o *options) configure(db *sql.DB) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
		db.SetMaxIdleConns(o.MaxOpenConns)
	}

	if o.configureDB != nil {
		o.configureDB(db)
	}
}

// WithApplyMigrations controls whether the task tables are migrated on startup.
func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

func WithMaxOpenConns(n int) option {
	return func(o *options) {
		o.MaxOpenConns = n
	}
}

// WithDBConfig is called with the connection pool after the store's own settings are applied.
func WithDBConfig(f func(db *sql.DB)) option {
	return func(o *options) {
		o.configureDB = f
	}
}

// WithBackendOptions allows to pass generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

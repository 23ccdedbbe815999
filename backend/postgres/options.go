package postgres

import (
	"database/sql"
	"fmt"

	"github.com/cschleiden/go-scaffolder/backend"
)

const defaultSSLMode = "disable"

type options struct {
	*backend.Options

	// ApplyMigrations creates or updates the task tables when the store is opened. Stores
	// created from an existing connection pool default to false.
	ApplyMigrations bool

	// MaxOpenConns limits the connection pool. Zero keeps the driver default.
	MaxOpenConns int

	// SSLMode is passed as sslmode in the connection string, "disable" if empty.
	SSLMode string

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

func (o *options) dsn(host string, port int, user, password, database string) string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", host, port, user, password, database, sslMode)
}

// configure applies the pool settings. Pools passed in by the caller are left alone.
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

// WithSSLMode sets the sslmode of the connection, e.g. "require" or "verify-full".
func WithSSLMode(sslMode string) option {
	return func(o *options) {
		o.SSLMode = sslMode
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

package sqlite

import (
	"fmt"
	"time"

	"github.com/cschleiden/go-scaffolder/backend"
)

const inMemoryDSN = "file::memory:?_pragma=foreign_keys(1)"

type options struct {
	*backend.Options

	// ApplyMigrations creates or updates the task tables when the store is opened.
	ApplyMigrations bool

	// BusyTimeout is how long a write waits for a lock held by another connection to the same
	// database file.
	BusyTimeout time.Duration
}

type option func(*options)

func newOptions(opts []option) *options {
	bo := backend.ApplyOptions()
	o := &options{
		Options:         &bo,
		ApplyMigrations: true,
		BusyTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// fileDSN returns the connection string for a database file. Writers take the lock when a
// transaction starts, the journal is kept in WAL mode.
func (o *options) fileDSN(path string) string {
	return fmt.Sprintf(
		"file:%v?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, o.BusyTimeout.Milliseconds())
}

// WithApplyMigrations controls whether the task tables are migrated on startup.
func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

func WithBusyTimeout(d time.Duration) option {
	return func(o *options) {
		o.BusyTimeout = d
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

package redis

import (
	"time"

	"github.com/cschleiden/go-scaffolder/backend"
)

type RedisOptions struct {
	*backend.Options

	// AutoExpiration is the duration after which finished tasks and their events expire from the
	// data store. If set to 0 (default), tasks never expire.
	AutoExpiration time.Duration

	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

// WithAutoExpiration sets the duration after which finished tasks will expire from the data store.
// If set to 0 (default), tasks will never expire and need to be manually removed.
func WithAutoExpiration(expireFinishedTasksAfter time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.AutoExpiration = expireFinishedTasksAfter
	}
}

func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}

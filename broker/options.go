package broker

import (
	"time"

	"github.com/cschleiden/go-scaffolder/core"
)

type Options struct {
	// PollingInterval is the time a claimer waits before asking the store again after it did not
	// return a task. Defaults to 200ms.
	PollingInterval time.Duration

	// CompletionRetryTimeout bounds how long writing the final result of a task is retried before
	// giving up. Defaults to 1 minute.
	CompletionRetryTimeout time.Duration

	// WaitTimeout is used by WaitForTask when no explicit timeout is given. Defaults to 20 seconds.
	WaitTimeout time.Duration
}

var DefaultOptions = Options{
	PollingInterval:        200 * time.Millisecond,
	CompletionRetryTimeout: time.Minute,
	WaitTimeout:            20 * time.Second,
}

type Option func(*Options)

func WithPollingInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PollingInterval = interval
	}
}

func WithCompletionRetryTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CompletionRetryTimeout = timeout
	}
}

func WithWaitTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.WaitTimeout = timeout
	}
}

type dispatchOptions struct {
	secrets core.Secrets
}

type DispatchOption func(*dispatchOptions)

// WithSecrets associates a credential bag with the dispatched task. Secrets are handed to the
// worker that claims the task but never returned by Get.
func WithSecrets(secrets core.Secrets) DispatchOption {
	return func(o *dispatchOptions) {
		o.secrets = secrets
	}
}

package memory

import (
	"testing"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/test"
)

func Test_MemoryBackend(t *testing.T) {
	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMemoryBackend(options...)
	}, nil)
}

func Test_EndToEndMemoryBackend(t *testing.T) {
	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMemoryBackend(options...)
	}, nil)
}

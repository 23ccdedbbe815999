package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTags_With(t *testing.T) {
	base := Tags{"backend": "sqlite", "status": "ok"}

	merged := base.With(Tags{"status": "failed", "action": "fetch:plain"})
	require.Equal(t, Tags{"backend": "sqlite", "status": "failed", "action": "fetch:plain"}, merged)

	// Receiver is left untouched
	require.Equal(t, Tags{"backend": "sqlite", "status": "ok"}, base)

	var empty Tags
	require.Equal(t, Tags{}, empty.With(nil))
}

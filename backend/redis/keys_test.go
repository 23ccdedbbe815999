package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Keys(t *testing.T) {
	require.Equal(t, "p:task:1234", taskKey("p:", "1234"))
	require.Equal(t, "task-events:1234", taskEventsKey("", "1234"))
	require.Equal(t, "p:tasks-open", openTasksKey("p:"))
	require.Equal(t, "tasks-processing", processingTasksKey(""))
}

func Test_EventStreamID(t *testing.T) {
	id, err := eventIDFromStreamID(eventStreamID(42))
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = eventIDFromStreamID("42")
	require.Error(t, err)
}

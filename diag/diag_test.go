package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, h http.Handler, url string, out any) int {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}

	return rec.Code
}

func Test_Diag(t *testing.T) {
	ctx := context.Background()
	b := broker.New(memory.NewMemoryBackend())
	h := NewHandler(b)

	r, err := b.Dispatch(ctx, &core.TaskSpec{
		Steps: []core.Step{{ID: "log", Name: "Log", Action: "debug:log"}},
	})
	require.NoError(t, err)

	var stats backend.Stats
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats", &stats))
	require.Equal(t, int64(1), stats.OpenTasks)

	task, err := b.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, task.EmitLog(ctx, "first", nil))
	require.NoError(t, task.EmitLog(ctx, "second", nil))

	var state broker.TaskState
	require.Equal(t, http.StatusOK, get(t, h, "/api/tasks/"+r.TaskID, &state))
	require.Equal(t, r.TaskID, state.Task.ID)
	require.Equal(t, core.TaskStatusProcessing, state.Task.Status)
	require.Len(t, state.Events, 2)

	var events EventsResponse
	require.Equal(t, http.StatusOK, get(t, h, fmt.Sprintf("/api/tasks/%s/events?after=%d", r.TaskID, state.Events[0].ID), &events))
	require.Len(t, events.Events, 1)
	require.Equal(t, "second", events.Events[0].Body.Message)

	require.Equal(t, http.StatusOK, get(t, h, fmt.Sprintf("/api/tasks/%s/events?after=%d", r.TaskID, state.Events[1].ID), &events))
	require.Empty(t, events.Events)
}

func Test_Diag_Errors(t *testing.T) {
	h := NewHandler(broker.New(memory.NewMemoryBackend()))

	require.Equal(t, http.StatusNotFound, get(t, h, "/api/tasks/unknown", nil))
	require.Equal(t, http.StatusNotFound, get(t, h, "/api/tasks/unknown/events", nil))
	require.Equal(t, http.StatusBadRequest, get(t, h, "/api/tasks/unknown/events?after=abc", nil))
}

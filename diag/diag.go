// Package diag serves a read-only diagnostics API for tasks.
package diag

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
)

// json: field names of these types are part of the API

type EventsResponse struct {
	Events []*core.TaskEvent `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns a handler serving the diagnostics API:
//
//	GET /api/stats                            counts of open and processing tasks
//	GET /api/tasks/{taskID}                   task and all of its events
//	GET /api/tasks/{taskID}/events?after={id} events after the given event id
func NewHandler(b *broker.Broker) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		s, err := b.Backend().GetStats(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, s)
	})

	api.GET("/tasks/:taskID", func(c *gin.Context) {
		s, err := b.Get(c.Request.Context(), c.Param("taskID"))
		if err != nil {
			writeError(c, err)
			return
		}

		if s.Events == nil {
			s.Events = []*core.TaskEvent{}
		}

		c.JSON(http.StatusOK, s)
	})

	api.GET("/tasks/:taskID/events", func(c *gin.Context) {
		var after *int64
		if v := c.Query("after"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after parameter"})
				return
			}

			after = &id
		}

		events, err := b.ListEvents(c.Request.Context(), c.Param("taskID"), after)
		if err != nil {
			writeError(c, err)
			return
		}

		if events == nil {
			events = []*core.TaskEvent{}
		}

		c.JSON(http.StatusOK, EventsResponse{Events: events})
	})

	return router
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, backend.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

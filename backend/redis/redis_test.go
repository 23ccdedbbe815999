package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/test"
	"github.com/cschleiden/go-scaffolder/core"
)

const (
	address  = "localhost:6379"
	user     = ""
	password = "RedisPassw0rd"
)

func Test_RedisBackend(t *testing.T) {
	test.BackendTest(t, getCreateBackend(t), nil)
}

func Test_EndToEndRedisBackend(t *testing.T) {
	test.EndToEndBackendTest(t, getCreateBackend(t), nil)
}

// Runs the conformance suite against a real redis server.
func Test_RedisBackend_Server(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{address},
		Username: user,
		Password: password,
		DB:       0,
	})

	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		// Flush database
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			panic(err)
		}

		b, err := NewRedisBackend(client, WithBackendOptions(options...))
		if err != nil {
			panic(err)
		}

		return b
	}, nil)
}

func getCreateBackend(t *testing.T) func(options ...backend.BackendOption) backend.Backend {
	return func(options ...backend.BackendOption) backend.Backend {
		mr := miniredis.RunT(t)

		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})

		b, err := NewRedisBackend(client, WithBackendOptions(options...), WithKeyPrefix("scaffolder:"))
		if err != nil {
			panic(err)
		}

		return b
	}
}

func Test_RedisBackend_AutoExpiration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})

	b, err := NewRedisBackend(client, WithAutoExpiration(time.Hour))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()

	id, err := b.CreateTask(ctx, &core.TaskSpec{}, nil)
	require.NoError(t, err)

	task, err := b.ClaimTask(ctx)
	require.NoError(t, err)
	require.Equal(t, id, task.ID)

	require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{}))

	require.Equal(t, time.Hour, mr.TTL(taskKey("", id)))
	require.Equal(t, time.Hour, mr.TTL(taskEventsKey("", id)))

	mr.FastForward(time.Hour + time.Second)

	_, err = b.GetTask(ctx, id)
	require.ErrorIs(t, err, backend.ErrTaskNotFound)
}

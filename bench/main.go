package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/backend/monoprocess"
	"github.com/cschleiden/go-scaffolder/backend/mysql"
	"github.com/cschleiden/go-scaffolder/backend/redis"
	"github.com/cschleiden/go-scaffolder/backend/sqlite"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/registry"
	"github.com/cschleiden/go-scaffolder/worker"
)

var b = flag.String("backend", "redis", "Backend to use. Supported backends are:\n- memory\n- redis\n- mysql\n- sqlite\n")
var timeout = flag.Duration("timeout", time.Second*30, "Timeout for the benchmark run")
var runs = flag.Int("runs", 100, "Number of tasks to dispatch")
var steps = flag.Int("steps", 5, "Number of steps per task")
var resultSize = flag.Int("resultsize", 100, "Size of step output payload in bytes")
var pollers = flag.Int("pollers", 4, "Number of worker pollers")
var format = flag.String("format", "text", "Output format. Supported formats are:\n- text\n- csv\n")

func main() {
	flag.Parse()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(*timeout).Add(time.Second*5))
	defer cancel()

	mm := newMemMetrics()
	ba := getBackend(*b, backend.WithLogger(slog.New(slog.DiscardHandler)), backend.WithMetrics(mm))
	br := broker.New(ba, broker.WithPollingInterval(10*time.Millisecond))

	r := registry.New()
	if err := r.Register(&action.Action{ID: "bench:work", Handler: work}); err != nil {
		panic(err)
	}

	wo := worker.DefaultOptions
	wo.Pollers = *pollers
	wo.Logger = slog.New(slog.DiscardHandler)
	wo.Metrics = mm
	w := worker.New(br, r, &wo)

	workerCtx, stopWorker := context.WithCancel(ctx)
	if err := w.Start(workerCtx); err != nil {
		panic(err)
	}

	spec := benchSpec(*steps, *resultSize)

	start := time.Now()
	wg := sync.WaitGroup{}
	for i := 0; i < *runs; i++ {
		res, err := br.Dispatch(ctx, spec)
		if err != nil {
			panic(err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			t, err := br.WaitForTask(ctx, res.TaskID, *timeout)
			if err != nil {
				panic(fmt.Errorf("task %s did not finish: %w", res.TaskID, err))
			}

			if t.Status != core.TaskStatusCompleted {
				panic(fmt.Errorf("task %s finished with status %s", res.TaskID, t.Status))
			}
		}()
	}

	wg.Wait()

	end := time.Now()

	stopWorker()
	if err := w.WaitForCompletion(); err != nil {
		panic(err)
	}

	switch *format {
	case "text":
		log.Println("Ran", *runs, "tasks in", end.Sub(start).Seconds(), "seconds")
		mm.Print()

	case "csv":
		fmt.Printf(
			"%s,%v,%d,%d,%d,%d\n",
			*b, end.Sub(start).Seconds(), *runs, *steps, *resultSize, *pollers)
	}
}

// benchSpec builds a task whose steps each consume the output of the previous one.
func benchSpec(steps, size int) *core.TaskSpec {
	spec := &core.TaskSpec{
		Values: map[string]any{"size": size},
	}

	for i := 0; i < steps; i++ {
		input := map[string]any{"size": "{{ parameters.size }}"}
		if i > 0 {
			input["previous"] = fmt.Sprintf("{{ steps.step-%d.output.result }}", i-1)
		}

		spec.Steps = append(spec.Steps, core.Step{
			ID:     fmt.Sprintf("step-%d", i),
			Name:   fmt.Sprintf("Step %d", i),
			Action: "bench:work",
			Input:  input,
		})
	}

	if steps > 0 {
		spec.Output = map[string]any{"result": fmt.Sprintf("{{ steps.step-%d.output.result }}", steps-1)}
	}

	return spec
}

func work(ctx context.Context, actx *action.Context) error {
	n, _ := actx.Input["size"].(json.Number)
	size, _ := n.Int64()

	actx.Logger.Info("Working", "step", actx.StepID)
	actx.Output("result", strings.Repeat("x", int(size)))

	return nil
}

func getBackend(b string, opt ...backend.BackendOption) backend.Backend {
	switch b {
	case "memory":
		return monoprocess.NewMonoprocessBackend(memory.NewMemoryBackend(opt...), 10, 0)

	case "sqlite":
		os.Remove("bench.sqlite")

		return sqlite.NewSqliteBackend("bench.sqlite", sqlite.WithBackendOptions(opt...))

	case "mysql":
		db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", "root", "root"))
		if err != nil {
			panic(err)
		}

		if _, err := db.Exec("DROP DATABASE IF EXISTS bench"); err != nil {
			panic(fmt.Errorf("dropping database: %w", err))
		}

		if _, err := db.Exec("CREATE DATABASE bench"); err != nil {
			panic(fmt.Errorf("creating database: %w", err))
		}

		if err := db.Close(); err != nil {
			panic(err)
		}

		return mysql.NewMysqlBackend("localhost", 3306, "root", "root", "bench", mysql.WithBackendOptions(opt...))

	case "redis":
		rclient := redisv9.NewUniversalClient(&redisv9.UniversalOptions{
			Addrs:        []string{"localhost:6379"},
			Password:     "RedisPassw0rd",
			WriteTimeout: time.Second * 30,
			ReadTimeout:  time.Second * 30,
		})

		rclient.FlushAll(context.Background()).Result()

		b, err := redis.NewRedisBackend(rclient, redis.WithBackendOptions(opt...))
		if err != nil {
			panic(err)
		}

		return b

	default:
		panic("unknown backend " + b)
	}
}

package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const QueueDefault = "default"

// HandlersRegistry maps task types to workers. Every task is logged once
// with its outcome.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(logTasks)
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// ServerConfig weights the mail queue above everything else.
func ServerConfig(concurrency int) asynq.Config {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
	}
}

func logTasks(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)

		id, _ := asynq.GetTaskID(ctx)
		retry, _ := asynq.GetRetryCount(ctx)
		attrs := []any{
			"type", t.Type(),
			"task_id", id,
			"retry", retry,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			slog.Warn("task failed", append(attrs, "error", err)...)
			return err
		}
		slog.Info("task processed", attrs...)
		return nil
	})
}

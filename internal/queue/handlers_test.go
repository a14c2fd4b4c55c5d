package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestRegistryRoutesByType(t *testing.T) {
	reg := NewHandlersRegistry()
	var got string
	reg.Register(TypeMailSend, asynq.HandlerFunc(func(_ context.Context, task *asynq.Task) error {
		got = string(task.Payload())
		return nil
	}))

	if err := reg.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeMailSend, []byte(`{}`))); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got != `{}` {
		t.Fatalf("payload = %q", got)
	}
	if err := reg.Mux().ProcessTask(context.Background(), asynq.NewTask("report:build", nil)); err == nil {
		t.Fatalf("unregistered type should fail")
	}
}

func TestRegistryPassesErrorsThrough(t *testing.T) {
	reg := NewHandlersRegistry()
	boom := errors.New("smtp 451")
	reg.Register(TypeMailSend, asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	if err := reg.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeMailSend, nil)); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestServerConfigQueues(t *testing.T) {
	cfg := ServerConfig(0)
	if cfg.Concurrency != 10 {
		t.Fatalf("concurrency = %d", cfg.Concurrency)
	}
	if cfg.Queues[QueueCritical] <= cfg.Queues[QueueDefault] {
		t.Fatalf("critical queue must outweigh default: %v", cfg.Queues)
	}
}

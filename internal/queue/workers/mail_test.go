package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/queue"
)

type recordingSender struct {
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func mailTask(t *testing.T, msg mail.Message) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.MailSendPayload{Message: msg})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(queue.TypeMailSend, data)
}

func TestMailWorkerDelivers(t *testing.T) {
	s := &recordingSender{}
	w := NewMailWorker(s)
	msg := mail.Message{To: "a@example.com", Subject: "Reset", Text: "link"}
	if err := w.ProcessTask(context.Background(), mailTask(t, msg)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != msg {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestMailWorkerSkipsRetryOnBadPayload(t *testing.T) {
	w := NewMailWorker(&recordingSender{})
	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeMailSend, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want SkipRetry", err)
	}
	err = w.ProcessTask(context.Background(), mailTask(t, mail.Message{Subject: "x"}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("missing recipient: got %v", err)
	}
}

func TestMailWorkerRetriesDeliveryFailure(t *testing.T) {
	w := NewMailWorker(&recordingSender{err: errors.New("smtp down")})
	err := w.ProcessTask(context.Background(), mailTask(t, mail.Message{To: "a@example.com"}))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("delivery failure must be retried, got %v", err)
	}
}

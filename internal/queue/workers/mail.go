package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/queue"
)

type MailWorker struct {
	sender mail.Sender
}

func NewMailWorker(sender mail.Sender) *MailWorker {
	return &MailWorker{sender: sender}
}

func (w *MailWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.MailSendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Message.To == "" {
		return fmt.Errorf("mail task without recipient: %w", asynq.SkipRetry)
	}

	if err := w.sender.Send(ctx, payload.Message); err != nil {
		return fmt.Errorf("deliver mail: %w", err)
	}
	slog.Info("mail delivered", "to", payload.Message.To, "subject", payload.Message.Subject)
	return nil
}

package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/queue"
	"github.com/nikhilbhutani/agroplatform/internal/queue/workers"
)

const concurrency = 10

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(queue.RedisOpt(cfg.Redis), queue.ServerConfig(concurrency))

	registry := queue.NewHandlersRegistry()

	// Register workers
	mailWorker := workers.NewMailWorker(mail.NewSMTPSender(cfg.Mail))
	registry.Register(queue.TypeMailSend, asynq.HandlerFunc(mailWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "smtp_host", cfg.Mail.SMTPHost)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// Command backfill drains the backfill_jobs queue and runs one historical
// paging job (C6) per message: the scheduler's periodic jobs and the
// manual HTTP trigger both publish onto this same queue.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/nextlevelbuilder/chatsignal/internal/backfill"
	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/scheduler"
	"github.com/nextlevelbuilder/chatsignal/internal/store"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("backfill: config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chatsignal-backfill", cfg.OTELExporterEndpoint)
	if err != nil {
		slog.Error("backfill: tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("backfill: db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	busConn, err := bus.Dial(cfg.AMQPURL)
	if err != nil {
		slog.Error("backfill: bus dial failed", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()

	sessions := store.NewSessionStore(db, cfg.SessionCryptoKey)
	runner := backfill.New(cfg.TelegramAPIID, cfg.TelegramAPIHash, sessions, db, busConn)

	deliveries, err := busConn.Consume(bus.BackfillJobsQueue, 1)
	if err != nil {
		slog.Error("backfill: consume failed", "error", err)
		os.Exit(1)
	}

	slog.Info("backfill: started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("backfill: shut down")
			return
		case d, ok := <-deliveries:
			if !ok {
				slog.Info("backfill: delivery channel closed")
				return
			}
			var req scheduler.BackfillRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				slog.Warn("backfill: bad job payload, dropping", "error", err)
				_ = d.Reject(false)
				continue
			}
			job := backfill.Job{IdentityID: req.IdentityID, ChatID: req.ChatID, Days: req.Days}
			if err := runner.Run(ctx, job); err != nil {
				slog.Error("backfill: job failed", "identity", req.IdentityID, "chat_id", req.ChatID, "error", err)
			}
			_ = d.Ack(false)
		}
	}
}

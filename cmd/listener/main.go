// Command listener runs the realtime listener (C5): one MTProto identity,
// forwarding updates for its assigned chats onto the realtime fanout
// exchange. One process per configured account.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/chatsignal/internal/assignment"
	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/listener"
	"github.com/nextlevelbuilder/chatsignal/internal/store"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("listener: config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.TelegramAccountID == "" {
		slog.Error("listener: TELEGRAM_ACCOUNT_ID is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chatsignal-listener", cfg.OTELExporterEndpoint)
	if err != nil {
		slog.Error("listener: tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("listener: db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	defer rdb.Close()

	busConn, err := bus.Dial(cfg.AMQPURL)
	if err != nil {
		slog.Error("listener: bus dial failed", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()

	sessions := store.NewSessionStore(db, cfg.SessionCryptoKey)
	assignmentStore := assignment.NewStore(rdb, cfg.RealtimeAssignmentRedisPrefix)

	l := listener.New(cfg.TelegramAccountID, cfg.TelegramAPIID, cfg.TelegramAPIHash, sessions, assignmentStore, busConn)

	slog.Info("listener: starting", "identity", cfg.TelegramAccountID)
	if err := l.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("listener: exited with error", "identity", cfg.TelegramAccountID, "error", err)
		os.Exit(1)
	}
	slog.Info("listener: shut down", "identity", cfg.TelegramAccountID)
}

// redisAddr strips a redis:// scheme if present; REDIS_URL is sometimes set
// as a bare host:port and sometimes as a full URL depending on deployment.
func redisAddr(raw string) string {
	const scheme = "redis://"
	if len(raw) > len(scheme) && raw[:len(scheme)] == scheme {
		return raw[len(scheme):]
	}
	return raw
}

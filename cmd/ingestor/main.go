// Command ingestor runs the two-stage batching consumer (C9) against both
// the realtime and historical raw queues, classifying, persisting, and
// routing notifications.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/ingest"
	"github.com/nextlevelbuilder/chatsignal/internal/llm"
	"github.com/nextlevelbuilder/chatsignal/internal/notifier"
	"github.com/nextlevelbuilder/chatsignal/internal/persist"
	"github.com/nextlevelbuilder/chatsignal/internal/prefilter"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("ingestor: config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chatsignal-ingestor", cfg.OTELExporterEndpoint)
	if err != nil {
		slog.Error("ingestor: tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("ingestor: db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	busConn, err := bus.Dial(cfg.AMQPURL)
	if err != nil {
		slog.Error("ingestor: bus dial failed", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()

	realtimeCfg, err := config.LoadRealtimeConfig(cfg.RealtimeConfigPath)
	if err != nil {
		slog.Error("ingestor: realtime config load failed", "error", err)
		os.Exit(1)
	}
	chatLocations := make(map[int64][]config.Location, len(realtimeCfg.Chats))
	for _, c := range realtimeCfg.Chats {
		if id, ok := c.ResolvedChatID(); ok {
			chatLocations[id] = c.Locations
		}
	}

	routingWatcher, err := config.NewRoutingWatcher(cfg.RoutingConfigPath)
	if err != nil {
		slog.Error("ingestor: routing config load failed", "error", err)
		os.Exit(1)
	}
	routingWatcher.Watch(ctx)

	pf := prefilter.New(cfg.PrefilterConfigPath, time.Duration(cfg.PrefilterReloadIntervalSeconds)*time.Second)
	pf.WatchForChanges(ctx)

	var notif *notifier.Notifier
	if cfg.NotifierBotToken != "" {
		bot, err := telego.NewBot(cfg.NotifierBotToken, telego.WithDiscardLogger())
		if err != nil {
			slog.Error("ingestor: notifier bot init failed", "error", err)
			os.Exit(1)
		}
		notif = notifier.New(bot)
	} else {
		slog.Warn("ingestor: SIGNAL_BOT_TOKEN unset, notifications disabled")
	}

	deps := ingest.Deps{
		Prefilter:        pf,
		RoutingConfig:    routingWatcher.Get,
		LLM:              llm.New(cfg.LLMAPIBase, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBatchSize),
		Persist:          persist.New(db),
		Notifier:         notif,
		ChatLocations:    chatLocations,
		ReadBatchSize:    cfg.ReadBatchSize,
		ReadBatchTimeout: time.Duration(cfg.ReadBatchTimeoutSeconds) * time.Second,
		LLMBatchSize:     cfg.LLMBatchSize,
	}

	stats := ingest.NewSharedStats()
	go ingest.RunStatsTicker(ctx, stats, 60*time.Second)

	realtimeLoop := ingest.NewLoop(deps, stats)
	historicalLoop := ingest.NewLoop(deps, stats)

	errCh := make(chan error, 2)
	go func() { errCh <- realtimeLoop.Run(ctx, busConn, bus.RealtimeQueue) }()
	go func() { errCh <- historicalLoop.Run(ctx, busConn, bus.HistoricalQueue) }()

	slog.Info("ingestor: started", "read_batch_size", cfg.ReadBatchSize, "llm_batch_size", cfg.LLMBatchSize)

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			slog.Error("ingestor: consumer loop exited with error", "error", err)
		}
	}
	slog.Info("ingestor: shut down")
}

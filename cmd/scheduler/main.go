// Command scheduler runs the three periodic jobs (C13) plus the manual
// backfill trigger façade.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/chatsignal/internal/assignment"
	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/scheduler"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
	"github.com/nextlevelbuilder/chatsignal/internal/weight"
)

func main() {
	printExample := flag.Bool("print-example-config", false, "print an example config.yaml and exit")
	flag.Parse()
	if *printExample {
		doc, err := config.ExampleConfigYAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(doc)
		return
	}

	slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("scheduler: config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chatsignal-scheduler", cfg.OTELExporterEndpoint)
	if err != nil {
		slog.Error("scheduler: tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("scheduler: db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	defer rdb.Close()

	busConn, err := bus.Dial(cfg.AMQPURL)
	if err != nil {
		slog.Error("scheduler: bus dial failed", "error", err)
		os.Exit(1)
	}
	defer busConn.Close()

	realtimeCfg, err := config.LoadRealtimeConfig(cfg.RealtimeConfigPath)
	if err != nil {
		slog.Error("scheduler: realtime config load failed", "error", err)
		os.Exit(1)
	}

	capacityDefault := 200.0
	if cfg.RealtimeAccountCapacityDefault != nil {
		capacityDefault = *cfg.RealtimeAccountCapacityDefault
	}

	assignmentStore := assignment.NewStore(rdb, cfg.RealtimeAssignmentRedisPrefix)
	sched := scheduler.New(scheduler.Config{
		DB:              db,
		Bus:             busConn,
		AssignmentStore: assignmentStore,
		WeightComputer:  weight.New(db),
		RealtimeConfig:  realtimeCfg,
		CapacityDefault: capacityDefault,
		WeightAlpha:     cfg.WeightAlpha,
		WeightMin:       cfg.WeightMin,
		HistoryDays:     cfg.ScheduledHistoryDays,
	})

	go sched.Run(ctx)

	handler := &backfillTriggerHandler{sched: sched, realtimeCfg: realtimeCfg}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/parse/history", handler.handleTrigger)

	srv := &http.Server{Addr: ":" + cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("scheduler: started", "http_addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("scheduler: http server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("scheduler: shut down")
}

// backfillTriggerHandler serves the manual backfill trigger endpoint: given
// an account phone and a chat entity, it resolves both to the identity and
// chat ids the scheduler already knows and enqueues the same job shape the
// periodic jobs use.
type backfillTriggerHandler struct {
	sched       *scheduler.Scheduler
	realtimeCfg *config.RealtimeConfig
}

type triggerRequest struct {
	AccountPhone string `json:"account_phone"`
	ChatEntity   string `json:"chat_entity"`
	Days         *int   `json:"days,omitempty"`
}

type triggerResponse struct {
	TaskID string `json:"task_id"`
}

func (h *backfillTriggerHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identityID, ok := h.resolveAccount(req.AccountPhone)
	if !ok {
		http.Error(w, "unknown account_phone", http.StatusNotFound)
		return
	}
	chatID, ok := h.resolveChat(req.ChatEntity)
	if !ok {
		http.Error(w, "unknown chat_entity", http.StatusNotFound)
		return
	}

	days := 7
	if req.Days != nil {
		days = *req.Days
	}

	if err := h.sched.EnqueueBackfill(r.Context(), identityID, chatID, days); err != nil {
		slog.Error("scheduler: manual backfill enqueue failed", "identity", identityID, "chat_id", chatID, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	taskID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(triggerResponse{TaskID: taskID})
}

func (h *backfillTriggerHandler) resolveAccount(phone string) (string, bool) {
	for _, a := range h.realtimeCfg.Accounts {
		if a.Phone == phone {
			return a.AccountID, true
		}
	}
	return "", false
}

func (h *backfillTriggerHandler) resolveChat(entity string) (int64, bool) {
	if v, err := strconv.ParseInt(entity, 10, 64); err == nil {
		for _, c := range h.realtimeCfg.Chats {
			if id, ok := c.ResolvedChatID(); ok && id == v {
				return id, true
			}
		}
	}
	for _, c := range h.realtimeCfg.Chats {
		if c.Identifier == entity {
			if id, ok := c.ResolvedChatID(); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func redisAddr(raw string) string {
	const scheme = "redis://"
	if len(raw) > len(scheme) && raw[:len(scheme)] == scheme {
		return raw[len(scheme):]
	}
	return raw
}

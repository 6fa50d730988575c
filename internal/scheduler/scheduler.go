// Package scheduler implements the three periodic jobs (C13): hourly
// reassignment, 15-minute new-chat bootstrap, and daily full backfill. A
// single process loop ticks once a minute and fires whatever cron
// expression matches, so one job's failure never blocks the others.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/chatsignal/internal/assignment"
	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/weight"
)

const (
	reassignExpr = "0 * * * *"
	bootstrapExpr = "*/15 * * * *"
	fullBackfillExpr = "0 3 * * *"
)

// BackfillRequest is the job descriptor published to the backfill_jobs
// queue; cmd/backfill instances drain it and run internal/backfill.Job.
type BackfillRequest struct {
	IdentityID string `json:"identity_id"`
	ChatID     int64  `json:"chat_id"`
	Days       int    `json:"days"`
}

// Scheduler owns the cron loop and its collaborators.
type Scheduler struct {
	gron gronx.Gronx

	db              *sql.DB
	busConn         *bus.Conn
	assignmentStore *assignment.Store
	weightComputer  *weight.Computer

	identities       []string
	targets          []int64
	capacities       map[string]float64
	weightAlpha      float64
	weightMin        float64
	historyDays      int
}

type Config struct {
	DB              *sql.DB
	Bus             *bus.Conn
	AssignmentStore *assignment.Store
	WeightComputer  *weight.Computer
	RealtimeConfig  *config.RealtimeConfig
	CapacityDefault float64
	WeightAlpha     float64
	WeightMin       float64
	HistoryDays     int
}

func New(cfg Config) *Scheduler {
	identities := make([]string, 0, len(cfg.RealtimeConfig.Accounts))
	for _, a := range cfg.RealtimeConfig.Accounts {
		identities = append(identities, a.AccountID)
	}
	targets := make([]int64, 0, len(cfg.RealtimeConfig.Chats))
	for _, c := range cfg.RealtimeConfig.Chats {
		if id, ok := c.ResolvedChatID(); ok {
			targets = append(targets, id)
		}
	}
	capacities := make(map[string]float64, len(identities))
	for _, id := range identities {
		capacities[id] = cfg.CapacityDefault
	}

	return &Scheduler{
		gron:            gronx.New(),
		db:              cfg.DB,
		busConn:         cfg.Bus,
		assignmentStore: cfg.AssignmentStore,
		weightComputer:  cfg.WeightComputer,
		identities:      identities,
		targets:         targets,
		capacities:      capacities,
		weightAlpha:     cfg.WeightAlpha,
		weightMin:       cfg.WeightMin,
		historyDays:     cfg.HistoryDays,
	}
}

// Run ticks once a minute until ctx is canceled, firing any job whose
// expression is due.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if due, _ := s.gron.IsDue(reassignExpr, now); due {
		s.runJob(ctx, "reassign", s.runReassign)
	}
	if due, _ := s.gron.IsDue(bootstrapExpr, now); due {
		s.runJob(ctx, "bootstrap", s.runBootstrap)
	}
	if due, _ := s.gron.IsDue(fullBackfillExpr, now); due {
		s.runJob(ctx, "full_backfill", s.runFullBackfill)
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		slog.Error("scheduler: job failed", "job", name, "error", err)
	}
}

// runReassign gathers eligibility (every identity is eligible for every
// configured target), computes weights, solves, and writes the result with
// a human summary.
func (s *Scheduler) runReassign(ctx context.Context) error {
	weights, err := s.weightComputer.Compute(ctx, s.weightAlpha, s.weightMin)
	if err != nil {
		return err
	}
	for _, t := range s.targets {
		weights[t] = weight.WeightOrFloor(weights, t, s.weightMin)
	}

	eligible := make(map[int64][]string, len(s.targets))
	for _, t := range s.targets {
		eligible[t] = s.identities
	}

	prev, err := s.assignmentStore.ReadAll(ctx, s.identities)
	if err != nil {
		return err
	}

	next := assignment.Solve(s.targets, eligible, weights, s.identities, s.capacities)
	summary := assignment.Summary(prev, next, weights, s.capacities, s.targets)

	if err := s.assignmentStore.WriteAll(ctx, next, summary); err != nil {
		return err
	}
	slog.Info("scheduler: reassign complete", "targets", len(s.targets), "identities", len(s.identities))
	return nil
}

// runBootstrap enqueues one backfill job per (identity, chat) pair in the
// current assignment where the chat has zero rows older than 15 minutes.
func (s *Scheduler) runBootstrap(ctx context.Context) error {
	current, err := s.assignmentStore.ReadAll(ctx, s.identities)
	if err != nil {
		return err
	}

	enqueued := 0
	for identity, chans := range current {
		for chatID := range chans {
			isNew, err := s.isNewChat(ctx, chatID)
			if err != nil {
				slog.Warn("scheduler: bootstrap chat-age check failed", "chat_id", chatID, "error", err)
				continue
			}
			if !isNew {
				continue
			}
			if err := s.enqueueBackfill(ctx, identity, chatID, s.historyDays); err != nil {
				slog.Warn("scheduler: bootstrap enqueue failed", "identity", identity, "chat_id", chatID, "error", err)
				continue
			}
			enqueued++
		}
	}
	slog.Info("scheduler: bootstrap complete", "enqueued", enqueued)
	return nil
}

func (s *Scheduler) isNewChat(ctx context.Context, chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE chat_id = $1 AND message_date < now() - interval '15 minutes'`,
		chatID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// runFullBackfill enqueues a backfill job for every configured
// (identity, chat) pair in the current assignment, with the configured
// history horizon.
func (s *Scheduler) runFullBackfill(ctx context.Context) error {
	current, err := s.assignmentStore.ReadAll(ctx, s.identities)
	if err != nil {
		return err
	}
	enqueued := 0
	for identity, chans := range current {
		for chatID := range chans {
			if err := s.enqueueBackfill(ctx, identity, chatID, s.historyDays); err != nil {
				slog.Warn("scheduler: full-backfill enqueue failed", "identity", identity, "chat_id", chatID, "error", err)
				continue
			}
			enqueued++
		}
	}
	slog.Info("scheduler: full backfill complete", "enqueued", enqueued)
	return nil
}

func (s *Scheduler) enqueueBackfill(ctx context.Context, identityID string, chatID int64, days int) error {
	return s.busConn.PublishJSON(ctx, bus.BackfillJobsQueue, BackfillRequest{
		IdentityID: identityID,
		ChatID:     chatID,
		Days:       days,
	})
}

// EnqueueBackfill is the same enqueue path the HTTP façade and the periodic
// jobs both use, exported for cmd/scheduler's handler.
func (s *Scheduler) EnqueueBackfill(ctx context.Context, identityID string, chatID int64, days int) error {
	return s.enqueueBackfill(ctx, identityID, chatID, days)
}

// Package backfill implements the historical backfiller (C6): one job per
// (identity, chat), paging messages newest-to-oldest and publishing them to
// the historical fanout exchange until a watermark or time horizon is hit.
package backfill

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/providers"
	"github.com/nextlevelbuilder/chatsignal/internal/store"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

const maxFloodWaitRetries = 5

// floodWaitRetryConfig bounds MessagesGetHistory's flood-wait retries:
// maxFloodWaitRetries attempts, no exponential backoff (flood-wait already
// names its own mandatory delay via providers.FloodWaitError).
var floodWaitRetryConfig = providers.RetryConfig{
	Attempts: maxFloodWaitRetries,
	MinDelay: time.Second,
	MaxDelay: 10 * time.Minute,
}

// historyRateLimit bounds messages.getHistory calls well under Telegram's
// per-identity flood threshold for this method, independent of the
// flood-wait backoff that kicks in once the limit is actually hit.
const historyRateLimit = rate.Limit(2)

// Job describes one (identity, chat) backfill run.
type Job struct {
	IdentityID string
	ChatID     int64
	Days       int // cold-start horizon; ignored once a watermark exists
}

// Runner executes backfill jobs against a single MTProto identity.
type Runner struct {
	apiID   int
	apiHash string

	sessions *store.SessionStore
	db       *sql.DB
	busConn  *bus.Conn
	limiter  *rate.Limiter
}

func New(apiID int, apiHash string, sessions *store.SessionStore, db *sql.DB, busConn *bus.Conn) *Runner {
	return &Runner{
		apiID:    apiID,
		apiHash:  apiHash,
		sessions: sessions,
		db:       db,
		busConn:  busConn,
		limiter:  rate.NewLimiter(historyRateLimit, 3),
	}
}

// Run performs one job end-to-end: connect with the identity's credential,
// resolve the chat's input peer, find the stored watermark, page history,
// and publish each message. Direct database writes are disallowed here —
// every message this job yields goes through the bus like a realtime one.
func (r *Runner) Run(ctx context.Context, job Job) error {
	credential, ok, err := r.sessions.Get(ctx, job.IdentityID)
	if err != nil {
		return fmt.Errorf("backfill: load credential %s: %w", job.IdentityID, err)
	}
	if !ok {
		return fmt.Errorf("backfill: no credential on file for %s", job.IdentityID)
	}

	watermark, err := r.watermark(ctx, job.ChatID)
	if err != nil {
		return fmt.Errorf("backfill: watermark for chat %d: %w", job.ChatID, err)
	}

	storage := &memorySession{data: []byte(credential)}
	client := telegram.NewClient(r.apiID, r.apiHash, telegram.Options{SessionStorage: storage})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("backfill: identity %s has no valid session", job.IdentityID)
		}
		return r.page(ctx, client, job, watermark)
	})
}

func (r *Runner) watermark(ctx context.Context, chatID int64) (*int32, error) {
	var max sql.NullInt32
	err := r.db.QueryRowContext(ctx, `SELECT max(message_id) FROM messages WHERE chat_id = $1`, chatID).Scan(&max)
	if err != nil {
		return nil, err
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Int32
	return &v, nil
}

func (r *Runner) page(ctx context.Context, client *telegram.Client, job Job, watermark *int32) error {
	api := client.API()
	inputPeer := &tg.InputPeerChat{ChatID: job.ChatID}
	horizon := time.Now().Add(-time.Duration(job.Days) * 24 * time.Hour)

	offsetID := 0
	published := 0
	for {
		history, err := providers.RetryDo(ctx, floodWaitRetryConfig, func() (tg.MessagesMessagesClass, error) {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			h, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     inputPeer,
				OffsetID: offsetID,
				Limit:    100,
			})
			if err != nil {
				if wait, ok := parseFloodWait(err); ok {
					slog.Warn("backfill: flood wait, retrying", "chat_id", job.ChatID, "wait", wait)
					return nil, &providers.FloodWaitError{Wait: wait}
				}
				return nil, fmt.Errorf("backfill: get history: %w", err)
			}
			return h, nil
		})
		if err != nil {
			var floodErr *providers.FloodWaitError
			if errors.As(err, &floodErr) {
				return fmt.Errorf("backfill: flood-wait retries exhausted: %w", err)
			}
			return err
		}

		msgs := extractMessages(history)
		if len(msgs) == 0 {
			break
		}

		stop := false
		for _, m := range msgs {
			if watermark != nil && int32(m.ID) <= *watermark {
				stop = true
				break
			}
			msgDate := time.Unix(int64(m.Date), 0).UTC()
			if watermark == nil && msgDate.Before(horizon) {
				stop = true
				break
			}

			if err := r.publish(ctx, job.ChatID, m); err != nil {
				return fmt.Errorf("backfill: publish message %d: %w", m.ID, err)
			}
			published++
			offsetID = m.ID
		}
		if stop || len(msgs) < 100 {
			break
		}
	}

	slog.Info("backfill: job complete", "identity", job.IdentityID, "chat_id", job.ChatID, "published", published)
	return nil
}

func extractMessages(history tg.MessagesMessagesClass) []*tg.Message {
	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}
	out := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (r *Runner) publish(ctx context.Context, chatID int64, m *tg.Message) error {
	type wireMessage struct {
		ID      int32  `json:"id"`
		Message string `json:"message"`
		Date    int64  `json:"date"`
	}
	ctx, span := tracing.Tracer("chatsignal/backfill").Start(ctx, "backfill.publish")
	defer span.End()

	body, err := json.Marshal(wireMessage{ID: int32(m.ID), Message: m.Message, Date: int64(m.Date)})
	if err != nil {
		return err
	}
	ev := bus.Event{
		Event:     bus.EventHistoricalMessage,
		ChatID:    chatID,
		MessageID: int32(m.ID),
		Message:   body,
	}
	tracing.Inject(ctx, &ev.TraceParent)
	return r.busConn.PublishEvent(ctx, bus.HistoricalExchange, ev)
}

// parseFloodWait detects gotd/td's FLOOD_WAIT_<seconds> RPC error text and
// returns the wait duration, ported from original_source/core/anti_ban.py's
// handle_flood_wait.
func parseFloodWait(err error) (time.Duration, bool) {
	msg := err.Error()
	idx := strings.Index(msg, "FLOOD_WAIT_")
	if idx < 0 {
		return 0, false
	}
	rest := msg[idx+len("FLOOD_WAIT_"):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	seconds, err2 := strconv.Atoi(rest[:end])
	if err2 != nil {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

type memorySession struct {
	data []byte
}

func (m *memorySession) LoadSession(ctx context.Context) ([]byte, error) {
	return m.data, nil
}

func (m *memorySession) StoreSession(ctx context.Context, data []byte) error {
	m.data = data
	return nil
}

// Package ingest implements the two-stage batching consumer loop (C9):
// read-batch then LLM-batch, wiring the prefilter, LLM client, persister,
// domain router, and notifier together.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/classification"
	"github.com/nextlevelbuilder/chatsignal/internal/config"
	"github.com/nextlevelbuilder/chatsignal/internal/llm"
	"github.com/nextlevelbuilder/chatsignal/internal/messages"
	"github.com/nextlevelbuilder/chatsignal/internal/notifier"
	"github.com/nextlevelbuilder/chatsignal/internal/persist"
	"github.com/nextlevelbuilder/chatsignal/internal/prefilter"
	"github.com/nextlevelbuilder/chatsignal/internal/router"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

// Deps bundles every collaborator the pipeline needs. Both consumer loops
// (realtime, historical) share one Deps instance and one Stats.
type Deps struct {
	Prefilter     *prefilter.Prefilter
	RoutingConfig func() *config.RoutingConfig // live accessor, hot-reloadable
	LLM           *llm.Client
	Persist       *persist.Store
	Notifier      *notifier.Notifier
	ChatLocations map[int64][]config.Location

	ReadBatchSize    int
	ReadBatchTimeout time.Duration
	LLMBatchSize     int
}

// Loop runs one queue's consumer: read-batching, prefiltering, LLM
// batching, persistence, and ack/requeue — until deliveries closes.
type Loop struct {
	deps  Deps
	stats *stats

	pendingMu sync.Mutex
	pending   []candidate
}

type candidate struct {
	delivery amqp.Delivery
	row      messages.Row
	locations []config.Location
}

// NewLoop builds one consumer loop. Multiple Loops share the same *stats
// so a 60s tick reports combined realtime+historical activity.
func NewLoop(deps Deps, sharedStats *stats) *Loop {
	return &Loop{deps: deps, stats: sharedStats}
}

// NewSharedStats returns a stats object suitable for passing to multiple
// Loops plus runStatsTicker.
func NewSharedStats() *stats {
	return newStats()
}

// RunStatsTicker reports and resets s every interval until ctx is canceled.
func RunStatsTicker(ctx context.Context, s *stats, interval time.Duration) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	runStatsTicker(s, interval, stop)
}

// Run consumes queue until ctx is canceled or the delivery channel closes.
// Buffered deliveries are flushed as a background task on size or timeout,
// matching spec: the consumer itself never blocks on batch processing.
func (l *Loop) Run(ctx context.Context, conn *bus.Conn, queue string) error {
	deliveries, err := conn.Consume(queue, l.deps.ReadBatchSize*2)
	if err != nil {
		return fmt.Errorf("ingest: consume %s: %w", queue, err)
	}

	var buf []amqp.Delivery
	timer := time.NewTimer(l.deps.ReadBatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		batch := buf
		buf = nil
		go l.processBatch(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return nil
			}
			buf = append(buf, d)
			l.stats.incConsumed(1)
			l.stats.recordEvent(queue)
			if len(buf) >= l.deps.ReadBatchSize {
				flush()
				resetTimer(timer, l.deps.ReadBatchTimeout)
			}
		case <-timer.C:
			flush()
			resetTimer(timer, l.deps.ReadBatchTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// processBatch runs the prefilter pass over a read-batch: non-LLM results
// are persisted and acked immediately; LLM candidates join the shared
// pending list and may trigger one or more LLM calls.
func (l *Loop) processBatch(ctx context.Context, batch []amqp.Delivery) {
	ctx, batchSpan := tracing.Tracer("chatsignal/ingest").Start(ctx, "ingest.process_batch")
	defer batchSpan.End()

	var syncRows []messages.Row
	var syncDeliveries []amqp.Delivery
	var newCandidates []candidate

	for _, d := range batch {
		ev, err := bus.DecodeEvent(d.Body)
		if err != nil {
			_ = d.Reject(false)
			continue
		}

		msgCtx := tracing.Extract(ctx, ev.TraceParent)
		_, msgSpan := tracing.Tracer("chatsignal/ingest").Start(msgCtx, "ingest.receive_message")
		msgSpan.End()

		c, ok := extractCanonical(ev.ChatID, ev.MessageID, ev.Message, ev.SenderUsername, ev.ChatUsername)
		if !ok {
			slog.Warn("ingest: dropping payload with no derivable chat id")
			_ = d.Reject(false)
			continue
		}

		row := messages.Row{
			ChatID:         c.ChatID,
			MessageID:      c.MessageID,
			SenderUsername: c.SenderUsername,
			ChatUsername:   c.ChatUsername,
			Text:           c.Text,
			MessageDate:    c.MessageDate,
		}
		if c.SenderID != 0 {
			sid := c.SenderID
			row.SenderID = &sid
		}

		if row.Text == "" {
			intents, domains, urgency := messages.SyntheticSkip()
			row.Intents, row.Domains, row.UrgencyScore = intents, domains, urgency
			row.Reasoning = "empty text"
			syncRows = append(syncRows, row)
			syncDeliveries = append(syncDeliveries, d)
			l.stats.incFiltered()
			continue
		}

		decision := prefilter.Result{}
		if l.deps.Prefilter != nil {
			decision = l.deps.Prefilter.Match(row.Text)
		}
		switch decision.Decision {
		case prefilter.DecisionForce:
			intents, domains, urgency := messages.SyntheticForced()
			row.Intents, row.Domains, row.UrgencyScore = intents, domains, urgency
			row.Reasoning = "Forced: " + joinPatterns(decision.Matched)
			syncRows = append(syncRows, row)
			syncDeliveries = append(syncDeliveries, d)
			l.stats.incForced()
		case prefilter.DecisionSkip:
			intents, domains, urgency := messages.SyntheticSkip()
			row.Intents, row.Domains, row.UrgencyScore = intents, domains, urgency
			row.Reasoning = "Filtered: " + joinPatterns(decision.Matched)
			syncRows = append(syncRows, row)
			syncDeliveries = append(syncDeliveries, d)
			l.stats.incFiltered()
		default:
			newCandidates = append(newCandidates, candidate{
				delivery:  d,
				row:       row,
				locations: l.deps.ChatLocations[row.ChatID],
			})
		}
	}

	if len(syncRows) > 0 {
		l.persistAndFinish(ctx, syncRows, syncDeliveries)
	}

	if len(newCandidates) > 0 {
		l.enqueueCandidates(ctx, newCandidates)
	}
}

func joinPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "matched rule"
	}
	out := patterns[0]
	for _, p := range patterns[1:] {
		out += ", " + p
	}
	return out
}

// enqueueCandidates appends to the shared pending list and drains as many
// full LLM batches as are now available.
func (l *Loop) enqueueCandidates(ctx context.Context, cands []candidate) {
	l.pendingMu.Lock()
	l.pending = append(l.pending, cands...)
	var drained [][]candidate
	for len(l.pending) >= l.deps.LLMBatchSize {
		drained = append(drained, l.pending[:l.deps.LLMBatchSize])
		l.pending = l.pending[l.deps.LLMBatchSize:]
	}
	l.pendingMu.Unlock()

	for _, batch := range drained {
		l.classifyAndFinish(ctx, batch)
	}
}

// classifyAndFinish invokes the LLM client for one full batch and resolves
// every candidate to a persisted row plus an ack or requeue decision.
func (l *Loop) classifyAndFinish(ctx context.Context, cands []candidate) {
	items := make([]llm.Item, len(cands))
	for i, c := range cands {
		items[i] = llm.Item{ID: strconv.Itoa(i), Text: c.row.Text}
	}

	result := l.deps.LLM.Classify(ctx, items)

	if !result.OK {
		if result.ErrorKind == llm.ErrHTTPError && result.Status >= 400 && result.Status < 600 {
			deliveries := make([]amqp.Delivery, len(cands))
			for i, c := range cands {
				deliveries[i] = c.delivery
			}
			bus.RequeueAll(deliveries)
			slog.Warn("ingest: LLM batch failed with http_error, requeued", "status", result.Status, "size", len(cands))
			return
		}

		rows := make([]messages.Row, len(cands))
		deliveries := make([]amqp.Delivery, len(cands))
		for i, c := range cands {
			row := c.row
			intents, domains, urgency := messages.SyntheticSkip()
			row.Intents, row.Domains, row.UrgencyScore = intents, domains, urgency
			row.Reasoning = fmt.Sprintf("llm error: %s", result.ErrorKind)
			row.LLMAnalysis = map[string]any{
				"error_kind": string(result.ErrorKind),
				"status":     result.Status,
				"body":       result.Body,
				"message":    result.Message,
			}
			rows[i] = row
			deliveries[i] = c.delivery
		}
		l.persistAndFinish(ctx, rows, deliveries)
		return
	}

	byID := make(map[string]classification.ClassifiedMessage, len(result.Classified))
	for _, m := range result.Classified {
		byID[m.ID] = m
	}
	parseErrByID := make(map[string]string, len(result.ParseErrors))
	for _, pe := range result.ParseErrors {
		parseErrByID[pe.ID] = pe.Error
	}

	rows := make([]messages.Row, len(cands))
	deliveries := make([]amqp.Delivery, len(cands))
	for i, c := range cands {
		row := c.row
		id := strconv.Itoa(i)
		if m, ok := byID[id]; ok {
			row.Intents = m.Intents
			row.Domains = m.Domains
			row.UrgencyScore = m.UrgencyScore
			row.IsSpam = m.IsSpam
			row.Reasoning = m.Reasoning
			if m.NoneOnlyFlagged {
				row.LLMAnalysis = map[string]any{"none_only_flagged": true}
			}
		} else {
			intents, domains, urgency := messages.SyntheticSkip()
			row.Intents, row.Domains, row.UrgencyScore = intents, domains, urgency
			if reason, ok := parseErrByID[id]; ok {
				row.Reasoning = "parse_error: " + reason
			} else {
				row.Reasoning = "missing_result"
			}
		}
		rows[i] = row
		deliveries[i] = c.delivery
	}
	l.persistAndFinish(ctx, rows, deliveries)
}

// persistAndFinish writes rows through the persister, acks the matching
// deliveries on success, routes each row to its destinations, and notifies.
// On persist failure every delivery is left unacked (the broker will
// redeliver) and every row counts as failed.
func (l *Loop) persistAndFinish(ctx context.Context, rows []messages.Row, deliveries []amqp.Delivery) {
	if err := l.deps.Persist.Upsert(ctx, rows); err != nil {
		slog.Error("ingest: persist failed for batch", "size", len(rows), "error", err)
		l.stats.incFailed(len(rows))
		return
	}
	bus.AckAll(deliveries)
	l.stats.incPersisted(len(rows))

	for _, row := range rows {
		l.stats.recordUrgency(row.UrgencyScore)
		l.dispatchNotifications(ctx, row)
	}
}

func (l *Loop) dispatchNotifications(ctx context.Context, row messages.Row) {
	cfg := l.deps.RoutingConfig()
	if cfg == nil || l.deps.Notifier == nil {
		return
	}
	domains := make([]router.ClassifiedDomain, len(row.Domains))
	for i, d := range row.Domains {
		domains[i] = router.ClassifiedDomain{Domain: string(d.Domain), Subcategories: d.Subcategories}
	}
	locations := l.deps.ChatLocations[row.ChatID]
	targets := router.Resolve(domains, locations, cfg)

	var senderID int64
	if row.SenderID != nil {
		senderID = *row.SenderID
	}
	for _, target := range targets {
		l.deps.Notifier.Send(ctx, notifier.Request{
			Text:         row.Text,
			SourceChatID: row.ChatID,
			SenderID:     senderID,
			MessageID:    row.MessageID,
			SenderHandle: trimAt(row.SenderUsername),
			ChatHandle:   trimAt(row.ChatUsername),
			MessageDate:  row.MessageDate,
			TargetChatID: target,
		})
		l.stats.incNotifications(1)
	}
}

func trimAt(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}

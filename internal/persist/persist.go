// Package persist implements the single write path messages take on their
// way into the relational store: one upsert-ignore transaction per batch,
// keyed on (chat_id, message_id) so duplicate delivery from the bus never
// produces duplicate rows.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/chatsignal/internal/messages"
)

// Store writes classified messages to Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert writes every row in one transaction using INSERT ... ON CONFLICT
// (chat_id, message_id) DO NOTHING. A row already present (duplicate
// delivery from the bus) is silently skipped rather than erroring. Failure
// rolls back the whole batch and is left to the caller — the ingestor
// treats a failed Upsert as fatal for the batch and counts every row as
// failed rather than partially committing.
func (s *Store) Upsert(ctx context.Context, rows []messages.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			chat_id, message_id, sender_id, sender_username, chat_username,
			text, intents, domains, urgency_score, is_spam, reasoning,
			llm_analysis, openrouter_response, indexed_at, message_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (chat_id, message_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("persist: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		intents := make([]string, len(r.Intents))
		for i, in := range r.Intents {
			intents[i] = string(in)
		}

		domainsJSON, err := json.Marshal(r.Domains)
		if err != nil {
			return fmt.Errorf("persist: marshal domains for %d/%d: %w", r.ChatID, r.MessageID, err)
		}
		var llmAnalysis, rawResponse []byte
		if r.LLMAnalysis != nil {
			if llmAnalysis, err = json.Marshal(r.LLMAnalysis); err != nil {
				return fmt.Errorf("persist: marshal llm_analysis for %d/%d: %w", r.ChatID, r.MessageID, err)
			}
		}
		if r.RawLLMResponse != nil {
			if rawResponse, err = json.Marshal(r.RawLLMResponse); err != nil {
				return fmt.Errorf("persist: marshal openrouter_response for %d/%d: %w", r.ChatID, r.MessageID, err)
			}
		}

		indexedAt := r.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = now
		}

		if _, err := stmt.ExecContext(ctx,
			r.ChatID, r.MessageID, r.SenderID, r.SenderUsername, r.ChatUsername,
			r.Text, pq.Array(intents), domainsJSON, r.UrgencyScore, r.IsSpam, r.Reasoning,
			nullableJSON(llmAnalysis), nullableJSON(rawResponse), indexedAt, r.MessageDate,
		); err != nil {
			return fmt.Errorf("persist: insert %d/%d: %w", r.ChatID, r.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

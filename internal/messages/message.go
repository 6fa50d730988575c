// Package messages defines the ingested message row shared by the
// ingestor and persister: the single idempotency key for the
// whole pipeline is (ChatID, MessageID).
package messages

import (
	"time"

	"github.com/nextlevelbuilder/chatsignal/internal/classification"
)

// Key is the natural primary key every persistence point upserts on.
type Key struct {
	ChatID    int64
	MessageID int32
}

// Row is one fully-classified message as written to the `messages` table.
type Row struct {
	ChatID         int64
	MessageID      int32
	SenderID       *int64
	SenderUsername string
	ChatUsername   string
	Text           string
	MessageDate    time.Time
	IndexedAt      time.Time

	Intents      []classification.Intent
	Domains      []classification.DomainInfo
	UrgencyScore int
	IsSpam       bool
	Reasoning    string

	// LLMAnalysis is the classification-summary payload (or error detail
	// when classification failed) stored as llm_analysis jsonb.
	LLMAnalysis map[string]any
	// RawLLMResponse is the raw LLM API response body, stored as
	// openrouter_response jsonb, when one was produced for this row.
	RawLLMResponse map[string]any
}

// Key returns the row's idempotency key.
func (r Row) Key() Key {
	return Key{ChatID: r.ChatID, MessageID: r.MessageID}
}

// SyntheticForced is the deterministic classification applied to prefilter
// force-matches: treated as a construction/repair lead without calling the
// LLM.
func SyntheticForced() (intents []classification.Intent, domains []classification.DomainInfo, urgency int) {
	return []classification.Intent{classification.IntentRequest},
		[]classification.DomainInfo{{Domain: classification.DomainConstructionAndRepair}},
		3
}

// SyntheticSkip is the deterministic classification applied to prefilter
// skip-matches and to empty-text messages.
func SyntheticSkip() (intents []classification.Intent, domains []classification.DomainInfo, urgency int) {
	return []classification.Intent{classification.IntentOther},
		[]classification.DomainInfo{{Domain: classification.DomainNone}},
		1
}

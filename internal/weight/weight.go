// Package weight computes per-chat activity weight from recent message
// history, used by the assignment solver to prioritize which chats most
// need a dedicated listener.
package weight

import (
	"context"
	"database/sql"
	"fmt"
)

// Computer reads the messages table to derive blended short/long activity
// rates per chat.
type Computer struct {
	db *sql.DB
}

func New(db *sql.DB) *Computer {
	return &Computer{db: db}
}

// query computes, per chat_id, messages-per-minute over the last 15
// minutes (excluding rows whose indexed_at trails message_date by more
// than 5 minutes, so backfill doesn't inflate the recent-activity signal)
// and messages-per-minute over the last 24 hours.
const query = `
SELECT
  chat_id,
  COUNT(*) FILTER (
    WHERE message_date >= now() - interval '15 minutes'
      AND (indexed_at - message_date) <= interval '5 minutes'
  )::float8 / 15.0 AS r15,
  COUNT(*) FILTER (
    WHERE message_date >= now() - interval '24 hours'
  )::float8 / 1440.0 AS r24
FROM messages
GROUP BY chat_id`

// Compute returns w = alpha*r15 + (1-alpha)*r24 per chat, floored at
// minWeight. Chats with zero rows in the messages table are absent from
// the result; callers should treat a missing chat as minWeight.
func (c *Computer) Compute(ctx context.Context, alpha, minWeight float64) (map[int64]float64, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("weight: query: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]float64)
	for rows.Next() {
		var chatID int64
		var r15, r24 float64
		if err := rows.Scan(&chatID, &r15, &r24); err != nil {
			return nil, fmt.Errorf("weight: scan: %w", err)
		}
		w := alpha*r15 + (1-alpha)*r24
		if w < minWeight {
			w = minWeight
		}
		out[chatID] = w
	}
	return out, rows.Err()
}

// WeightOrFloor returns the computed weight for chatID, or minWeight for a
// chat with zero recent activity (including one absent from the map
// entirely, which is the expected shape for a chat with no rows at all).
func WeightOrFloor(weights map[int64]float64, chatID int64, minWeight float64) float64 {
	if w, ok := weights[chatID]; ok {
		return w
	}
	return minWeight
}

package store

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel is embedded by every persisted row that keys on a UUID rather
// than a natural key (chat_id/message_id pairs use their own composite key
// and do not embed this).
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenNewID returns a new random row identifier.
func GenNewID() uuid.UUID {
	return uuid.New()
}

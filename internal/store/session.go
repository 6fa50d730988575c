package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chatsignal/internal/crypto"
)

// SessionStore persists encrypted Telegram identity credentials (MTProto
// session strings) in Postgres, one row per identity.
type SessionStore struct {
	db     *sql.DB
	encKey string // empty = plain-text storage
}

func NewSessionStore(db *sql.DB, encryptionKey string) *SessionStore {
	if encryptionKey != "" {
		slog.Info("session store: credential encryption enabled")
	} else {
		slog.Warn("session store: credential encryption disabled (plain text storage)")
	}
	return &SessionStore{db: db, encKey: encryptionKey}
}

// Get returns the decrypted credential for identityID. ok is false if no
// row exists yet for this identity.
func (s *SessionStore) Get(ctx context.Context, identityID string) (string, bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT credential FROM identity_sessions WHERE identity_id = $1`, identityID,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session store: get %s: %w", identityID, err)
	}
	return s.decrypt(stored, identityID), true, nil
}

// Put upserts the credential for identityID, encrypting it at rest when an
// encryption key is configured.
func (s *SessionStore) Put(ctx context.Context, identityID, credential string) error {
	stored := credential
	if s.encKey != "" {
		encrypted, err := crypto.Encrypt(credential, s.encKey)
		if err != nil {
			return fmt.Errorf("session store: encrypt %s: %w", identityID, err)
		}
		stored = encrypted
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_sessions (identity_id, credential, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (identity_id) DO UPDATE SET credential = EXCLUDED.credential, updated_at = EXCLUDED.updated_at`,
		identityID, stored, now,
	)
	if err != nil {
		return fmt.Errorf("session store: put %s: %w", identityID, err)
	}
	return nil
}

// decrypt returns the cleartext credential, or the raw stored value on any
// decrypt failure — covers both corrupt ciphertext and legacy rows written
// before encryption was enabled for this deployment.
func (s *SessionStore) decrypt(stored, identityID string) string {
	if s.encKey == "" {
		return stored
	}
	plain, err := crypto.Decrypt(stored, s.encKey)
	if err != nil {
		slog.Warn("failed to decrypt identity credential, using stored value as-is", "identity", identityID, "error", err)
		return stored
	}
	return plain
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Location is a normalized {city, district?} tag attached to a source chat.
type Location struct {
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
}

// AccountSpec describes one realtime listener identity as declared in the
// realtime config file.
type AccountSpec struct {
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	TwoFA     string `json:"twofa,omitempty"`
}

// ChatSpecRaw is the on-disk shape of one source-chat entry: chat_id wins
// over identifier when both are present, and numeric-string identifiers are
// tolerated.
type ChatSpecRaw struct {
	ChatID     *int64     `json:"chat_id,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
	Locations  []Location `json:"locations,omitempty"`
}

// RealtimeConfig is the parsed, machine-written realtime roster: the set of
// identities and the fixed set of source chats they may be assigned.
type RealtimeConfig struct {
	Accounts []AccountSpec `json:"accounts"`
	Chats    []ChatSpecRaw `json:"chats"`
}

// ResolvedChatID returns the chat's numeric id, resolving a numeric-string
// identifier when chat_id itself is absent. ok is false when neither is
// usable.
func (c ChatSpecRaw) ResolvedChatID() (id int64, ok bool) {
	if c.ChatID != nil {
		return *c.ChatID, true
	}
	if c.Identifier != "" {
		if v, err := strconv.ParseInt(c.Identifier, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// LoadRealtimeConfig reads and parses the realtime roster file.
func LoadRealtimeConfig(path string) (*RealtimeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read realtime config %s: %w", path, err)
	}
	var cfg RealtimeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse realtime config %s: %w", path, err)
	}
	return &cfg, nil
}

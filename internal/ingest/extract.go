package ingest

import (
	"encoding/json"
	"time"
)

// canonical is the extracted subset of a platform-message object the
// pipeline actually needs; the rest of the raw JSON rides along unused.
type canonical struct {
	ChatID         int64
	MessageID      int32
	SenderID       int64
	SenderUsername string
	ChatUsername   string
	Text           string
	MessageDate    time.Time
}

// rawMessage mirrors the handful of fields a gotd/td message/channel
// message object exposes under the common names; fields absent from a
// given platform payload are simply left zero.
type rawMessage struct {
	ID      int32  `json:"id"`
	Message string `json:"message"`
	Text    string `json:"text"`
	Date    int64  `json:"date"`
	PeerID  *struct {
		ChannelID int64 `json:"channel_id"`
		ChatID    int64 `json:"chat_id"`
		UserID    int64 `json:"user_id"`
	} `json:"peer_id"`
	FromID *struct {
		UserID int64 `json:"user_id"`
	} `json:"from_id"`
}

// inferChatID derives a bot-API-style chat id from a peer_id block when
// the envelope itself didn't carry one: supergroups/channels are negated
// and offset by -100 per Telegram's established convention, basic groups
// are negated, and users keep their sign as-is.
func inferChatID(peer *struct {
	ChannelID int64 `json:"channel_id"`
	ChatID    int64 `json:"chat_id"`
	UserID    int64 `json:"user_id"`
}) (int64, bool) {
	if peer == nil {
		return 0, false
	}
	switch {
	case peer.ChannelID != 0:
		return -1000000000000 - peer.ChannelID, true
	case peer.ChatID != 0:
		return -peer.ChatID, true
	case peer.UserID != 0:
		return peer.UserID, true
	}
	return 0, false
}

// extractCanonical derives the canonical record from an inbound event. The
// envelope's own chat_id/message_id (set by the listener/backfiller) are
// authoritative; the nested message object is only consulted to fill in
// text, timestamp, and sender/chat handles, or to infer chat-id when the
// envelope is missing one.
func extractCanonical(chatID int64, messageID int32, rawMsg []byte, senderUsername, chatUsername *string) (canonical, bool) {
	var m rawMessage
	_ = json.Unmarshal(rawMsg, &m)

	c := canonical{
		ChatID:    chatID,
		MessageID: messageID,
	}
	if c.MessageID == 0 {
		c.MessageID = m.ID
	}
	if c.ChatID == 0 {
		if inferred, ok := inferChatID(m.PeerID); ok {
			c.ChatID = inferred
		}
	}
	if c.ChatID == 0 {
		return canonical{}, false
	}

	c.Text = m.Message
	if c.Text == "" {
		c.Text = m.Text
	}
	if m.Date > 0 {
		c.MessageDate = time.Unix(m.Date, 0).UTC()
	} else {
		c.MessageDate = time.Now().UTC()
	}
	if m.FromID != nil {
		c.SenderID = m.FromID.UserID
	}
	if senderUsername != nil {
		c.SenderUsername = *senderUsername
	}
	if chatUsername != nil {
		c.ChatUsername = *chatUsername
	}
	return c, true
}

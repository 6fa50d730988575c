// Package listener implements the realtime listener (C5): one MTProto
// identity per process, forwarding new-message updates for its currently
// assigned chats onto the realtime fanout exchange.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/nextlevelbuilder/chatsignal/internal/assignment"
	"github.com/nextlevelbuilder/chatsignal/internal/bus"
	"github.com/nextlevelbuilder/chatsignal/internal/store"
	"github.com/nextlevelbuilder/chatsignal/internal/tracing"
)

// credentialSession adapts a single stored credential string to gotd/td's
// session.Storage interface: load returns it verbatim, store persists
// whatever the client negotiates back (e.g. a refreshed auth key) so the
// next run resumes the same session.
type credentialSession struct {
	mu         sync.RWMutex
	identityID string
	sessions   *store.SessionStore
	data       []byte
}

func (c *credentialSession) LoadSession(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, nil
}

func (c *credentialSession) StoreSession(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.data = append([]byte(nil), data...)
	c.mu.Unlock()
	return c.sessions.Put(ctx, c.identityID, string(data))
}

// Listener is the per-identity lifecycle described in spec §4.5.
type Listener struct {
	identityID string
	apiID      int
	apiHash    string

	sessions   *store.SessionStore
	assignment *assignment.Store
	busConn    *bus.Conn

	allowedMu sync.RWMutex
	allowed   map[int64]struct{}

	recv, pub, failed int
	lastEvent         string
	statsMu           sync.Mutex
}

func New(identityID string, apiID int, apiHash string, sessions *store.SessionStore, assignmentStore *assignment.Store, busConn *bus.Conn) *Listener {
	return &Listener{
		identityID: identityID,
		apiID:      apiID,
		apiHash:    apiHash,
		sessions:   sessions,
		assignment: assignmentStore,
		busConn:    busConn,
		allowed:    make(map[int64]struct{}),
	}
}

// Run drives the lifecycle: Starting -> Connected -> Listening, with
// reconnect-with-backoff on transient failure and a long sleep-then-exit on
// credential/auth loss (the supervisor is expected to restart the process
// afterward, re-reading a possibly-updated credential).
func (l *Listener) Run(ctx context.Context) error {
	credential, ok, err := l.sessions.Get(ctx, l.identityID)
	if err != nil {
		return fmt.Errorf("listener %s: load credential: %w", l.identityID, err)
	}
	if !ok {
		return fmt.Errorf("listener %s: no credential on file, fatal", l.identityID)
	}

	backoff := 10 * time.Second
	for {
		err := l.runOnce(ctx, credential)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isAuthLoss(err) {
			slog.Error("listener: credential/auth lost, sleeping before exit", "identity", l.identityID, "error", err)
			select {
			case <-time.After(time.Hour):
			case <-ctx.Done():
			}
			return fmt.Errorf("listener %s: auth lost: %w", l.identityID, err)
		}
		slog.Warn("listener: transient failure, reconnecting", "identity", l.identityID, "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isAuthLoss(err error) bool {
	if err == nil {
		return false
	}
	// gotd/td surfaces revoked/expired sessions as an RPC error whose text
	// names the Telegram error codes for session invalidation.
	msg := err.Error()
	for _, marker := range []string{"AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED"} {
		if contains(msg, marker) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func (l *Listener) runOnce(ctx context.Context, credential string) error {
	storage := &credentialSession{identityID: l.identityID, sessions: l.sessions, data: []byte(credential)}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return l.handleMessage(ctx, u.Message)
	})
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return l.handleMessage(ctx, u.Message)
	})

	client := telegram.NewClient(l.apiID, l.apiHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("AUTH_KEY_UNREGISTERED: identity %s has no valid session on file", l.identityID)
		}

		if err := l.refreshAllowed(ctx); err != nil {
			slog.Warn("listener: initial allowed-ids refresh failed", "identity", l.identityID, "error", err)
		}

		stop := make(chan struct{})
		defer close(stop)
		go l.watchAssignment(ctx, stop)
		go l.statsTicker(ctx, stop)

		<-ctx.Done()
		return ctx.Err()
	})
}

// watchAssignment refreshes allowed_ids on every pub/sub notification and
// falls back to a 30s poll in case a notification is lost.
func (l *Listener) watchAssignment(ctx context.Context, stop <-chan struct{}) {
	sub := l.assignment.Subscribe(ctx)
	defer sub.Close()
	ch := sub.Channel()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ch:
			if err := l.refreshAllowed(ctx); err != nil {
				slog.Warn("listener: allowed-ids refresh on notify failed", "identity", l.identityID, "error", err)
			}
		case <-ticker.C:
			if err := l.refreshAllowed(ctx); err != nil {
				slog.Warn("listener: allowed-ids fallback poll failed", "identity", l.identityID, "error", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) refreshAllowed(ctx context.Context) error {
	ids, err := l.assignment.GetAllowed(ctx, l.identityID)
	if err != nil {
		return err
	}
	l.allowedMu.Lock()
	l.allowed = ids
	l.allowedMu.Unlock()
	return nil
}

func (l *Listener) isAllowed(chatID int64) bool {
	l.allowedMu.RLock()
	defer l.allowedMu.RUnlock()
	if len(l.allowed) == 0 {
		return true
	}
	_, ok := l.allowed[chatID]
	return ok
}

// wireMessage is the JSON shape forwarded on the bus, matching the rawMessage
// contract internal/ingest/extract.go expects.
type wireMessage struct {
	ID      int32  `json:"id"`
	Message string `json:"message"`
	Date    int64  `json:"date"`
	PeerID  *struct {
		ChannelID int64 `json:"channel_id"`
		ChatID    int64 `json:"chat_id"`
		UserID    int64 `json:"user_id"`
	} `json:"peer_id,omitempty"`
	FromID *struct {
		UserID int64 `json:"user_id"`
	} `json:"from_id,omitempty"`
}

func (l *Listener) handleMessage(ctx context.Context, mc tg.MessageClass) error {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return nil
	}
	l.recordEvent("message")

	ctx, span := tracing.Tracer("chatsignal/listener").Start(ctx, "listener.handle_message")
	defer span.End()

	chatID, wm := toWireMessage(msg)
	if chatID != 0 && !l.isAllowed(chatID) {
		return nil
	}

	body, err := json.Marshal(wm)
	if err != nil {
		l.incFailed()
		return fmt.Errorf("listener: marshal message: %w", err)
	}

	ev := bus.Event{
		Event:     bus.EventNewMessage,
		ChatID:    chatID,
		MessageID: int32(msg.ID),
		Message:   body,
	}
	tracing.Inject(ctx, &ev.TraceParent)
	if err := l.busConn.PublishEvent(ctx, bus.RealtimeExchange, ev); err != nil {
		l.incFailed()
		slog.Warn("listener: publish failed, dropping event", "identity", l.identityID, "chat_id", chatID, "error", err)
		return nil
	}
	l.incPublished()
	return nil
}

func toWireMessage(msg *tg.Message) (int64, wireMessage) {
	wm := wireMessage{ID: int32(msg.ID), Message: msg.Message, Date: int64(msg.Date)}

	var chatID int64
	switch peer := msg.PeerID.(type) {
	case *tg.PeerChannel:
		chatID = -1000000000000 - peer.ChannelID
		wm.PeerID = &struct {
			ChannelID int64 `json:"channel_id"`
			ChatID    int64 `json:"chat_id"`
			UserID    int64 `json:"user_id"`
		}{ChannelID: peer.ChannelID}
	case *tg.PeerChat:
		chatID = -peer.ChatID
		wm.PeerID = &struct {
			ChannelID int64 `json:"channel_id"`
			ChatID    int64 `json:"chat_id"`
			UserID    int64 `json:"user_id"`
		}{ChatID: peer.ChatID}
	case *tg.PeerUser:
		chatID = peer.UserID
		wm.PeerID = &struct {
			ChannelID int64 `json:"channel_id"`
			ChatID    int64 `json:"chat_id"`
			UserID    int64 `json:"user_id"`
		}{UserID: peer.UserID}
	}

	if fromPeer, ok := msg.GetFromID(); ok {
		if user, ok := fromPeer.(*tg.PeerUser); ok {
			wm.FromID = &struct {
				UserID int64 `json:"user_id"`
			}{UserID: user.UserID}
		}
	}

	return chatID, wm
}

func (l *Listener) recordEvent(name string) {
	l.statsMu.Lock()
	l.recv++
	l.lastEvent = name
	l.statsMu.Unlock()
}

func (l *Listener) incPublished() {
	l.statsMu.Lock()
	l.pub++
	l.statsMu.Unlock()
}

func (l *Listener) incFailed() {
	l.statsMu.Lock()
	l.failed++
	l.statsMu.Unlock()
}

func (l *Listener) statsTicker(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.statsMu.Lock()
			l.allowedMu.RLock()
			slog.Info("listener stats",
				"identity", l.identityID,
				"received", l.recv,
				"published", l.pub,
				"failed", l.failed,
				"last_event", l.lastEvent,
				"allowed_size", len(l.allowed),
			)
			l.allowedMu.RUnlock()
			l.recv, l.pub, l.failed = 0, 0, 0
			l.statsMu.Unlock()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

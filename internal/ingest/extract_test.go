package ingest

import "testing"

func TestExtractCanonicalUsesEnvelopeChatID(t *testing.T) {
	raw := []byte(`{"id":7,"message":"У нас пожар в подъезде","date":1735732800}`)
	c, ok := extractCanonical(-100123, 7, raw, nil, nil)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if c.ChatID != -100123 || c.MessageID != 7 {
		t.Fatalf("unexpected ids: %+v", c)
	}
	if c.Text != "У нас пожар в подъезде" {
		t.Fatalf("unexpected text: %q", c.Text)
	}
}

func TestExtractCanonicalInfersChatIDFromPeer(t *testing.T) {
	raw := []byte(`{"id":3,"message":"hello","date":1735732800,"peer_id":{"channel_id":555}}`)
	c, ok := extractCanonical(0, 0, raw, nil, nil)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if c.ChatID != -1000000000000-555 {
		t.Fatalf("unexpected inferred chat id: %d", c.ChatID)
	}
	if c.MessageID != 3 {
		t.Fatalf("expected message id from payload, got %d", c.MessageID)
	}
}

func TestExtractCanonicalDropsWhenNoChatIDDerivable(t *testing.T) {
	raw := []byte(`{"id":3,"message":"hello"}`)
	_, ok := extractCanonical(0, 0, raw, nil, nil)
	if ok {
		t.Fatalf("expected ok=false with no derivable chat id")
	}
}

func TestJoinPatterns(t *testing.T) {
	if joinPatterns(nil) != "matched rule" {
		t.Fatalf("expected fallback label for empty patterns")
	}
	if got := joinPatterns([]string{"a", "b"}); got != "a, b" {
		t.Fatalf("unexpected join: %q", got)
	}
}

func TestTrimAt(t *testing.T) {
	if trimAt("@handle") != "handle" {
		t.Fatalf("expected @ trimmed")
	}
	if trimAt("handle") != "handle" {
		t.Fatalf("expected unchanged when no @")
	}
}

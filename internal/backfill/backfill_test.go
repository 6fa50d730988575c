package backfill

import (
	"errors"
	"testing"
	"time"
)

func TestParseFloodWait(t *testing.T) {
	wait, ok := parseFloodWait(errors.New("rpc error code 420: FLOOD_WAIT_30"))
	if !ok {
		t.Fatalf("expected flood wait detected")
	}
	if wait != 30*time.Second {
		t.Fatalf("expected 30s, got %v", wait)
	}
}

func TestParseFloodWaitAbsent(t *testing.T) {
	if _, ok := parseFloodWait(errors.New("some other error")); ok {
		t.Fatalf("expected no flood wait detected")
	}
}

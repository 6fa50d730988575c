package classification

import "testing"

func TestParseCompactLine(t *testing.T) {
	line := "1|1|1|1=2|0|3|Ищет ремонтную бригаду"
	msg, err := ParseCompactLine(line)
	if err != nil {
		t.Fatalf("ParseCompactLine: %v", err)
	}
	if msg.ID != "1" {
		t.Fatalf("id = %q", msg.ID)
	}
	if len(msg.Intents) != 1 || msg.Intents[0] != IntentRequest {
		t.Fatalf("intents = %v", msg.Intents)
	}
	if len(msg.Domains) != 1 || msg.Domains[0].Domain != DomainConstructionAndRepair {
		t.Fatalf("domains = %+v", msg.Domains)
	}
	if len(msg.Domains[0].Subcategories) != 1 || msg.Domains[0].Subcategories[0] != "REPAIR_SERVICES" {
		t.Fatalf("subcategories = %v", msg.Domains[0].Subcategories)
	}
	if msg.IsSpam {
		t.Fatalf("is_spam should be false")
	}
	if msg.UrgencyScore != 3 {
		t.Fatalf("urgency = %d", msg.UrgencyScore)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"1|1|1|1=2|0|3|Ищет ремонтную бригаду",
		"2|5|1||0|1|Уточняет высоту потолка",
		"3|1|3,5|5=1|0|3|Ищет юриста по договору",
		"6|6|12||0|1|Обрывок фразы",
	}
	for _, line := range cases {
		msg, err := ParseCompactLine(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		got := EncodeCompactLine(msg)
		if got != line {
			t.Errorf("round trip mismatch: got %q want %q", got, line)
		}
	}
}

func TestNoneCoalescingDropsNoneAlongsideRealDomain(t *testing.T) {
	msg, err := ParseCompactLine("1|6|1,12||0|1|test")
	if err != nil {
		t.Fatalf("ParseCompactLine: %v", err)
	}
	if len(msg.Domains) != 1 || msg.Domains[0].Domain != DomainConstructionAndRepair {
		t.Fatalf("expected NONE dropped, got %+v", msg.Domains)
	}
	if msg.NoneOnlyFlagged {
		t.Fatalf("should not be none-only flagged")
	}
}

func TestNoneOnlyIsFlaggedForManualReview(t *testing.T) {
	msg, err := ParseCompactLine("1|6|12||0|1|test")
	if err != nil {
		t.Fatalf("ParseCompactLine: %v", err)
	}
	if !msg.NoneOnlyFlagged {
		t.Fatalf("expected none-only flag set")
	}
	if len(msg.Domains) != 1 || msg.Domains[0].Domain != DomainNone {
		t.Fatalf("domains = %+v", msg.Domains)
	}
}

func TestParseBatchPartialIsolatesBadLines(t *testing.T) {
	text := "1|1|1||0|3|ok\nbroken-line\n2|9|1||0|3|bad intent"
	msgs, errs, err := ParseBatchPartial(text)
	if err != nil {
		t.Fatalf("ParseBatchPartial: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 parsed message, got %d", len(msgs))
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 parse errors, got %d", len(errs))
	}
}

func TestParseEmptyBatchErrors(t *testing.T) {
	if _, _, err := ParseBatchPartial("   \n  "); err == nil {
		t.Fatalf("expected error for empty batch")
	}
}

func TestSubcategoryForNonSelectedDomainRejected(t *testing.T) {
	if _, err := ParseCompactLine("1|1|1|2=1|0|3|x"); err == nil {
		t.Fatalf("expected error for subcategory on non-selected domain")
	}
}

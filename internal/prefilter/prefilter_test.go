package prefilter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRuleFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "prefilter.json5")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
	return path
}

func TestEmptyRulesetReturnsNone(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "missing.json5"), time.Millisecond)
	res := p.Match("anything at all")
	if res.Decision != DecisionNone {
		t.Fatalf("expected none decision, got %v", res.Decision)
	}
	if len(res.Matched) != 0 {
		t.Fatalf("expected no matches, got %v", res.Matched)
	}
}

func TestForceBeatsSkip(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, `{
		"substrings": [
			{"pattern": "пожар", "action": "force"},
			{"pattern": "реклам", "action": "skip"}
		]
	}`)
	p := New(path, time.Millisecond)
	res := p.Match("реклама: у нас пожар, звоните")
	if res.Decision != DecisionForce {
		t.Fatalf("expected force decision, got %v", res.Decision)
	}
	if len(res.Matched) != 1 || res.Matched[0] != "пожар" {
		t.Fatalf("unexpected matched patterns: %v", res.Matched)
	}
}

func TestSubstringDefaultIgnoresCase(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, `{"substrings": [{"pattern": "Пожар", "action": "force"}]}`)
	p := New(path, time.Millisecond)
	res := p.Match("у нас пожар")
	if res.Decision != DecisionForce {
		t.Fatalf("expected case-insensitive substring match to force, got %v", res.Decision)
	}
}

func TestRegexDefaultIsCaseSensitive(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, `{"regexes": [{"pattern": "REKLAM\\w+", "action": "skip"}]}`)
	p := New(path, time.Millisecond)
	if res := p.Match("reklama uslug"); res.Decision != DecisionNone {
		t.Fatalf("expected no match with default case sensitivity, got %v", res.Decision)
	}
	if res := p.Match("REKLAMA uslug"); res.Decision != DecisionSkip {
		t.Fatalf("expected case-sensitive regex match to skip, got %v", res.Decision)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, `{"substrings": [{"pattern": "old", "action": "skip"}]}`)
	p := New(path, time.Millisecond)
	if res := p.Match("old news"); res.Decision != DecisionSkip {
		t.Fatalf("expected initial rule to skip, got %v", res.Decision)
	}

	time.Sleep(5 * time.Millisecond)
	writeRuleFile(t, dir, `{"substrings": [{"pattern": "new", "action": "force"}]}`)
	// New clamps the reload interval to at least one second.
	time.Sleep(1100 * time.Millisecond)

	if res := p.Match("new deal"); res.Decision != DecisionForce {
		t.Fatalf("expected reloaded rule to force, got %v", res.Decision)
	}
}

func TestMissingFileDisablesRuleset(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, `{"substrings": [{"pattern": "x", "action": "skip"}]}`)
	p := New(path, time.Millisecond)
	p.Match("x")

	os.Remove(path)
	// New clamps the reload interval to at least one second.
	time.Sleep(1100 * time.Millisecond)
	res := p.Match("x")
	if res.Decision != DecisionNone {
		t.Fatalf("expected ruleset disabled after file removal, got %v", res.Decision)
	}
}

// Package prefilter implements the hot-reloaded substring/regex ruleset
// that short-circuits the LLM classifier for obvious force/skip cases.
package prefilter

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/chatsignal/internal/config"
)

// Decision is the outcome of matching a message's text against the
// ruleset.
type Decision string

const (
	DecisionNone  Decision = "none"
	DecisionForce Decision = "force"
	DecisionSkip  Decision = "skip"
)

// Result is the combined decision plus the de-duplicated, first-seen-order
// list of patterns that matched.
type Result struct {
	Decision Decision
	Matched  []string
}

type compiledRule struct {
	pattern    string
	ignoreCase bool
	action     string
	re         *regexp.Regexp // nil for substring rules
}

type ruleSet struct {
	substrings []compiledRule
	regexes    []compiledRule
}

// Prefilter holds the current ruleset and reloads it from disk at most once
// per reloadInterval, keeping the previous ruleset on any other stat, read
// or parse error so a bad edit never takes classification fully offline.
// A missing file clears the ruleset.
type Prefilter struct {
	path           string
	reloadInterval time.Duration

	mu          sync.Mutex
	rules       *ruleSet
	lastCheck   time.Time
	lastModTime time.Time
}

// New constructs a Prefilter. reloadInterval must be at least 1 second per
// the config file contract; callers passing less get it clamped up.
func New(path string, reloadInterval time.Duration) *Prefilter {
	if reloadInterval < time.Second {
		reloadInterval = time.Second
	}
	return &Prefilter{path: path, reloadInterval: reloadInterval}
}

// WatchForChanges starts a best-effort fsnotify watch on the ruleset file
// that shortens the next poll when a write is observed. The mtime+interval
// gate in maybeReload remains the source of truth; a missed or coalesced
// fsnotify event just means the next periodic Match call still catches the
// change within reloadInterval.
func (p *Prefilter) WatchForChanges(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("prefilter: fsnotify unavailable, relying on poll interval", "error", err)
		return
	}
	dir := dirOf(p.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("prefilter: fsnotify watch failed, relying on poll interval", "dir", dir, "error", err)
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == p.path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					p.mu.Lock()
					p.lastCheck = time.Time{}
					p.mu.Unlock()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("prefilter: fsnotify error", "error", err)
			}
		}
	}()
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

// Match evaluates text against the current ruleset, reloading first if the
// gate has elapsed and the file changed.
func (p *Prefilter) Match(text string) Result {
	p.maybeReload()

	p.mu.Lock()
	rs := p.rules
	p.mu.Unlock()

	if rs == nil {
		return Result{Decision: DecisionNone}
	}

	var forceMatched, skipMatched []string
	seen := map[string]bool{}
	add := func(list *[]string, pattern string) {
		if seen[pattern] {
			return
		}
		seen[pattern] = true
		*list = append(*list, pattern)
	}

	for _, r := range rs.substrings {
		if substringMatch(text, r) {
			if r.action == "force" {
				add(&forceMatched, r.pattern)
			} else {
				add(&skipMatched, r.pattern)
			}
		}
	}
	for _, r := range rs.regexes {
		if r.re.MatchString(text) {
			if r.action == "force" {
				add(&forceMatched, r.pattern)
			} else {
				add(&skipMatched, r.pattern)
			}
		}
	}

	if len(forceMatched) > 0 {
		return Result{Decision: DecisionForce, Matched: forceMatched}
	}
	if len(skipMatched) > 0 {
		return Result{Decision: DecisionSkip, Matched: skipMatched}
	}
	return Result{Decision: DecisionNone}
}

func substringMatch(text string, r compiledRule) bool {
	if r.ignoreCase {
		return strings.Contains(strings.ToLower(text), strings.ToLower(r.pattern))
	}
	return strings.Contains(text, r.pattern)
}

func (p *Prefilter) maybeReload() {
	p.mu.Lock()
	if time.Since(p.lastCheck) < p.reloadInterval {
		p.mu.Unlock()
		return
	}
	p.lastCheck = time.Now()
	prevMod := p.lastModTime
	p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.rules = nil
			p.lastModTime = time.Time{}
			p.mu.Unlock()
			return
		}
		slog.Warn("prefilter: stat failed, keeping previous ruleset", "path", p.path, "error", err)
		return
	}
	if !info.ModTime().After(prevMod) {
		return
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		slog.Warn("prefilter: read failed, keeping previous ruleset", "path", p.path, "error", err)
		return
	}
	cfg, err := config.ParsePrefilterConfig(raw)
	if err != nil {
		slog.Warn("prefilter: parse failed, keeping previous ruleset", "path", p.path, "error", err)
		return
	}
	rs, err := buildRuleSet(cfg)
	if err != nil {
		slog.Warn("prefilter: invalid rule, keeping previous ruleset", "path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	p.rules = rs
	p.lastModTime = info.ModTime()
	p.mu.Unlock()
	slog.Info("prefilter: reloaded ruleset", "path", p.path,
		"substrings", len(rs.substrings), "regexes", len(rs.regexes))
}

func buildRuleSet(cfg *config.PrefilterFileConfig) (*ruleSet, error) {
	rs := &ruleSet{}
	for _, s := range cfg.Substrings {
		ignoreCase := true // substring rules default to case-insensitive
		if s.IgnoreCase != nil {
			ignoreCase = *s.IgnoreCase
		}
		rs.substrings = append(rs.substrings, compiledRule{
			pattern: s.Pattern, action: s.Action, ignoreCase: ignoreCase,
		})
	}
	for _, r := range cfg.Regexes {
		ignoreCase := false // regex rules default to case-sensitive
		if r.IgnoreCase != nil {
			ignoreCase = *r.IgnoreCase
		}
		pattern := r.Pattern
		if ignoreCase {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		rs.regexes = append(rs.regexes, compiledRule{
			pattern: r.Pattern, action: r.Action, ignoreCase: ignoreCase, re: re,
		})
	}
	return rs, nil
}

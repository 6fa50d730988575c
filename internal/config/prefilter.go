package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// PrefilterRuleSpec is one substring or regex rule as declared in the
// prefilter config file.
type PrefilterRuleSpec struct {
	Pattern    string `json:"pattern"`
	Action     string `json:"action"` // "skip" | "force"
	IgnoreCase *bool  `json:"ignore_case,omitempty"`
}

// PrefilterFileConfig is the on-disk shape of the prefilter ruleset.
type PrefilterFileConfig struct {
	Substrings []PrefilterRuleSpec `json:"substrings"`
	Regexes    []PrefilterRuleSpec `json:"regexes"`
}

// ParsePrefilterConfig parses already-read bytes, allowing callers (the
// hot-reload loop) to pair this with their own mtime check.
func ParsePrefilterConfig(raw []byte) (*PrefilterFileConfig, error) {
	var cfg PrefilterFileConfig
	if err := json5.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse prefilter config: %w", err)
	}
	return &cfg, nil
}

// LoadPrefilterConfig reads and parses the prefilter ruleset file directly.
func LoadPrefilterConfig(path string) (*PrefilterFileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read prefilter config %s: %w", path, err)
	}
	return ParsePrefilterConfig(raw)
}

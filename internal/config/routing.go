package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// ScalarKind distinguishes the three possible resolutions of a scalar
// routing value: a concrete destination, "use the fallback", or "drop".
type ScalarKind int

const (
	ScalarInt ScalarKind = iota
	ScalarNull
	ScalarMuted
)

// Scalar is a routing resolution: int destination, null (fallback), or
// muted (drop).
type Scalar struct {
	Kind  ScalarKind
	Value int64
}

func parseScalarRaw(raw json.RawMessage) (Scalar, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "null", "":
		return Scalar{Kind: ScalarNull}, nil
	case "false", `"muted"`:
		return Scalar{Kind: ScalarMuted}, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return Scalar{Kind: ScalarInt, Value: n}, nil
	}
	return Scalar{}, fmt.Errorf("config: invalid scalar routing value %q", trimmed)
}

// LocationOverride pairs a (city, district?) match rule with the scalar
// resolution to use when it matches. Predicate is an optional CEL
// expression (variables `city`, `district`) tried before the plain
// city/district comparison; an empty Predicate leaves behavior unchanged.
type LocationOverride struct {
	City      string
	District  string
	Predicate string
	Value     Scalar
}

func (l *LocationOverride) UnmarshalJSON(data []byte) error {
	var raw struct {
		City      string          `json:"city"`
		District  string          `json:"district"`
		Predicate string          `json:"predicate"`
		ChatID    json.RawMessage `json:"chat_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := parseScalarRaw(raw.ChatID)
	if err != nil {
		return err
	}
	l.City = strings.ToLower(raw.City)
	l.District = strings.ToLower(raw.District)
	l.Predicate = raw.Predicate
	l.Value = v
	return nil
}

// SubcatEntry is a domain's per-subcategory routing rule: either a bare
// scalar, or a structured value carrying its own default and location
// overrides.
type SubcatEntry struct {
	IsScalar          bool
	Scalar            Scalar
	Default           Scalar
	LocationOverrides []LocationOverride
}

func (s *SubcatEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		v, err := parseScalarRaw(data)
		if err != nil {
			return err
		}
		s.IsScalar = true
		s.Scalar = v
		return nil
	}
	var raw struct {
		Default           json.RawMessage    `json:"default"`
		LocationOverrides []LocationOverride `json:"location_overrides"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	def, err := parseScalarRaw(raw.Default)
	if err != nil {
		return err
	}
	s.Default = def
	s.LocationOverrides = raw.LocationOverrides
	return nil
}

// DomainEntry is the routing rule for one classification domain.
type DomainEntry struct {
	IsScalar          bool
	Scalar            Scalar
	Default           Scalar
	LocationOverrides []LocationOverride
	Subcategories     map[string]SubcatEntry
}

func (d *DomainEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		v, err := parseScalarRaw(data)
		if err != nil {
			return err
		}
		d.IsScalar = true
		d.Scalar = v
		return nil
	}
	var raw struct {
		Default           json.RawMessage        `json:"default"`
		LocationOverrides []LocationOverride      `json:"location_overrides"`
		Subcategories     map[string]SubcatEntry  `json:"subcategories"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	def, err := parseScalarRaw(raw.Default)
	if err != nil {
		return err
	}
	d.Default = def
	d.LocationOverrides = raw.LocationOverrides
	d.Subcategories = raw.Subcategories
	return nil
}

// RoutingConfig is the full domain routing table.
type RoutingConfig struct {
	Domains           map[string]DomainEntry `json:"domains"`
	MutedSubcategories []string              `json:"muted_subcategories"`
	Fallback          int64                  `json:"fallback"`
}

type routingConfigRaw struct {
	Domains            map[string]DomainEntry `json:"domains"`
	MutedSubcategories []string               `json:"muted_subcategories"`
	Fallback           *int64                 `json:"fallback"`
}

// LoadRoutingConfig reads and parses the JSON5 routing table. fallback is
// mandatory; its absence is a fatal load error.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read routing config %s: %w", path, err)
	}
	var rc routingConfigRaw
	if err := json5.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("config: parse routing config %s: %w", path, err)
	}
	if rc.Fallback == nil {
		return nil, fmt.Errorf("config: routing config %s: fallback is required", path)
	}
	return &RoutingConfig{
		Domains:            rc.Domains,
		MutedSubcategories: rc.MutedSubcategories,
		Fallback:           *rc.Fallback,
	}, nil
}

package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/chatsignal/internal/config"
)

func loadRouting(t *testing.T, json5 string) *config.RoutingConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.json5")
	if err := os.WriteFile(path, []byte(json5), 0o644); err != nil {
		t.Fatalf("write routing config: %v", err)
	}
	cfg, err := config.LoadRoutingConfig(path)
	if err != nil {
		t.Fatalf("load routing config: %v", err)
	}
	return cfg
}

func TestResolveLocationOverride(t *testing.T) {
	cfg := loadRouting(t, `{
		"domains": {
			"CONSTRUCTION_AND_REPAIR": {
				"default": -1000,
				"subcategories": {
					"REPAIR_SERVICES": {
						"default": -1000,
						"location_overrides": [
							{"city": "moscow", "district": "szao", "chat_id": -1001}
						]
					}
				}
			}
		},
		"fallback": -999
	}`)

	domains := []ClassifiedDomain{{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"REPAIR_SERVICES"}}}
	locations := []config.Location{{City: "moscow", District: "szao"}}

	dests := Resolve(domains, locations, cfg)
	if len(dests) != 1 || dests[0] != -1001 {
		t.Fatalf("expected single destination -1001, got %v", dests)
	}
}

func TestResolveDomainLevelOverrideRetriedAfterSubcategoryMiss(t *testing.T) {
	cfg := loadRouting(t, `{
		"domains": {
			"CONSTRUCTION_AND_REPAIR": {
				"default": -1000,
				"location_overrides": [
					{"city": "moscow", "chat_id": -2000}
				],
				"subcategories": {
					"REPAIR_SERVICES": -1500
				}
			}
		},
		"fallback": -999
	}`)

	domains := []ClassifiedDomain{{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"REPAIR_SERVICES"}}}
	locations := []config.Location{{City: "moscow"}}

	dests := Resolve(domains, locations, cfg)
	if len(dests) != 1 || dests[0] != -2000 {
		t.Fatalf("expected domain-level override -2000 to be retried after the bare-scalar subcategory, got %v", dests)
	}
}

func TestResolveNullFallsBackToFallback(t *testing.T) {
	cfg := loadRouting(t, `{"domains": {"INFO": null}, "fallback": -999}`)
	dests := Resolve([]ClassifiedDomain{{Domain: "INFO"}}, nil, cfg)
	if len(dests) != 1 || dests[0] != -999 {
		t.Fatalf("expected fallback destination, got %v", dests)
	}
}

func TestResolveScalarMutedDropsDomain(t *testing.T) {
	cfg := loadRouting(t, `{"domains": {"OTHER": "muted"}, "fallback": -999}`)
	dests := Resolve([]ClassifiedDomain{{Domain: "OTHER", Subcategories: []string{"ANYTHING"}}}, nil, cfg)
	if len(dests) != 0 {
		t.Fatalf("expected muted domain to be dropped, got %v", dests)
	}
}

func TestResolveSubcategoryMutedOnlySuppressesThatSubcategory(t *testing.T) {
	cfg := loadRouting(t, `{
		"domains": {
			"CONSTRUCTION_AND_REPAIR": {
				"default": -1000,
				"subcategories": {"MAJOR_RENOVATION": "muted"}
			}
		},
		"fallback": -999
	}`)
	muted := Resolve([]ClassifiedDomain{{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"MAJOR_RENOVATION"}}}, nil, cfg)
	if len(muted) != 0 {
		t.Fatalf("expected muted subcategory to drop, got %v", muted)
	}
	notMuted := Resolve([]ClassifiedDomain{{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"REPAIR_SERVICES"}}}, nil, cfg)
	if len(notMuted) != 1 || notMuted[0] != -1000 {
		t.Fatalf("expected fall-through to domain default, got %v", notMuted)
	}
}

func TestResolveGlobalMutedSubcategoryDropsWholeMessage(t *testing.T) {
	cfg := loadRouting(t, `{
		"domains": {"CONSTRUCTION_AND_REPAIR": -1000},
		"muted_subcategories": ["SPAM_LIKE"],
		"fallback": -999
	}`)
	dests := Resolve([]ClassifiedDomain{{Domain: "CONSTRUCTION_AND_REPAIR", Subcategories: []string{"SPAM_LIKE"}}}, nil, cfg)
	if dests != nil {
		t.Fatalf("expected entire message dropped, got %v", dests)
	}
}

func TestResolvePreservesDuplicateDestinations(t *testing.T) {
	cfg := loadRouting(t, `{
		"domains": {"A": -500, "B": -500},
		"fallback": -999
	}`)
	dests := Resolve([]ClassifiedDomain{{Domain: "A"}, {Domain: "B"}}, nil, cfg)
	if len(dests) != 2 || dests[0] != -500 || dests[1] != -500 {
		t.Fatalf("expected duplicate destinations preserved, got %v", dests)
	}
}

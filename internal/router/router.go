// Package router implements the domain-based routing resolver: mapping a
// classified message's (domains, subcategories, source-locations) tuple to
// zero or more destination chat ids.
package router

import "github.com/nextlevelbuilder/chatsignal/internal/config"

// ClassifiedDomain is one (domain, subcategories) pair from a message's
// classification result.
type ClassifiedDomain struct {
	Domain        string
	Subcategories []string
}

// Resolve returns the destination chat ids a message should be delivered
// to. Duplicates are preserved intentionally: two domains routing to the
// same destination means two deliveries (see spec design notes — callers
// may collapse if they want single delivery).
//
// A message carrying any subcategory in the global muted set is dropped
// entirely (no destinations returned), before any per-domain resolution.
func Resolve(domains []ClassifiedDomain, locations []config.Location, cfg *config.RoutingConfig) []int64 {
	if cfg == nil {
		return nil
	}
	muted := make(map[string]bool, len(cfg.MutedSubcategories))
	for _, m := range cfg.MutedSubcategories {
		muted[m] = true
	}
	for _, d := range domains {
		for _, sc := range d.Subcategories {
			if muted[sc] {
				return nil
			}
		}
	}

	var out []int64
	for _, d := range domains {
		dest, drop := resolveDomain(d, locations, cfg)
		if !drop {
			out = append(out, dest)
		}
	}
	return out
}

func resolveDomain(d ClassifiedDomain, locations []config.Location, cfg *config.RoutingConfig) (int64, bool) {
	entry, ok := cfg.Domains[d.Domain]
	if !ok {
		return cfg.Fallback, false
	}
	if entry.IsScalar {
		return resolveScalar(entry.Scalar, cfg.Fallback)
	}

	subcatValue := entry.Default
	for _, sc := range d.Subcategories {
		sub, ok := entry.Subcategories[sc]
		if !ok {
			continue
		}
		if sub.IsScalar {
			if sub.Scalar.Kind == config.ScalarMuted {
				return 0, true
			}
			subcatValue = sub.Scalar
			break
		}
		if sub.Default.Kind == config.ScalarMuted {
			return 0, true
		}
		if dest, matched := matchLocationOverrides(sub.LocationOverrides, locations); matched {
			return resolveScalar(dest, cfg.Fallback)
		}
		subcatValue = sub.Default
		break
	}

	// Domain-level overrides are retried unconditionally here, whether the
	// subcategory pass above found a bare scalar, a structured entry with no
	// override match, or no matching subcategory at all.
	if dest, matched := matchLocationOverrides(entry.LocationOverrides, locations); matched {
		return resolveScalar(dest, cfg.Fallback)
	}
	return resolveScalar(subcatValue, cfg.Fallback)
}

func resolveScalar(s config.Scalar, fallback int64) (int64, bool) {
	switch s.Kind {
	case config.ScalarMuted:
		return 0, true
	case config.ScalarNull:
		return fallback, false
	default:
		return s.Value, false
	}
}

// matchLocationOverrides first tries any override carrying a CEL
// Predicate, then the two-pass match: exact (city, district), then
// city-only, comparing against every source location in order until one
// rule matches.
func matchLocationOverrides(overrides []config.LocationOverride, locations []config.Location) (config.Scalar, bool) {
	for _, loc := range locations {
		city, district := normalize(loc.City), normalize(loc.District)
		for _, ov := range overrides {
			if ov.Predicate != "" && evalPredicate(ov.Predicate, city, district) {
				return ov.Value, true
			}
		}
	}
	for _, loc := range locations {
		city, district := normalize(loc.City), normalize(loc.District)
		for _, ov := range overrides {
			if ov.District != "" && ov.City == city && ov.District == district {
				return ov.Value, true
			}
		}
	}
	for _, loc := range locations {
		city := normalize(loc.City)
		if city == "" {
			continue
		}
		for _, ov := range overrides {
			if ov.District == "" && ov.City == city {
				return ov.Value, true
			}
		}
	}
	return config.Scalar{}, false
}

func normalize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		out = append(out, r)
	}
	return string(out)
}

// Package assignment implements the greedy balanced max-coverage solver
// that assigns source chats to listener identities, plus the diff/summary
// helpers the scheduler uses for observability after each reassignment.
package assignment

import (
	"fmt"
	"math"
	"sort"
)

// Set is the assignment result: identity -> set of chat ids.
type Set map[string]map[int64]struct{}

// NewSet builds an empty assignment covering exactly the given identities,
// matching the shape every downstream consumer (diff, load, summary)
// expects even for identities that end up with nothing assigned.
func NewSet(identities []string) Set {
	s := make(Set, len(identities))
	for _, id := range identities {
		s[id] = make(map[int64]struct{})
	}
	return s
}

func (s Set) add(identity string, chatID int64) {
	if s[identity] == nil {
		s[identity] = make(map[int64]struct{})
	}
	s[identity][chatID] = struct{}{}
}

// Solve runs the greedy balanced max-coverage assignment described in
// spec §4.4:
//  1. drop chats with no eligible identity
//  2. sort remaining chats rarest-first (fewest eligible identities), then
//     heaviest-first
//  3. for each chat, among eligible identities whose load+weight(chat)
//     would not exceed their capacity, pick the one with the smallest
//     (load, residualFlexibility), tie-broken by identity id
//
// capacities maps identity -> max total weight; a missing identity is
// treated as unbounded capacity.
func Solve(chats []int64, eligible map[int64][]string, weight map[int64]float64, identities []string, capacities map[string]float64) Set {
	load := make(map[string]float64, len(identities))
	for _, id := range identities {
		load[id] = 0
	}
	assigned := NewSet(identities)

	w := func(c int64) float64 {
		if v, ok := weight[c]; ok {
			return v
		}
		return 1.0
	}
	cap := func(id string) float64 {
		if v, ok := capacities[id]; ok {
			return v
		}
		return math.Inf(1)
	}

	var pool []int64
	for _, c := range chats {
		if len(eligible[c]) > 0 {
			pool = append(pool, c)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		ci, cj := pool[i], pool[j]
		ei, ej := len(eligible[ci]), len(eligible[cj])
		if ei != ej {
			return ei < ej
		}
		return w(ci) > w(cj)
	})

	residualFlex := func(identity string, remaining []int64, idx int) int {
		n := 0
		for k := idx; k < len(remaining); k++ {
			c := remaining[k]
			if _, done := assigned[identity][c]; done {
				continue
			}
			for _, e := range eligible[c] {
				if e == identity {
					n++
					break
				}
			}
		}
		return n
	}

	for idx, c := range pool {
		cw := w(c)
		var candidates []string
		for _, identity := range eligible[c] {
			if load[identity]+cw <= cap(identity) {
				candidates = append(candidates, identity)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if load[a] != load[b] {
				return load[a] < load[b]
			}
			fa, fb := residualFlex(a, pool, idx+1), residualFlex(b, pool, idx+1)
			if fa != fb {
				return fa < fb
			}
			return a < b
		})
		chosen := candidates[0]
		assigned.add(chosen, c)
		load[chosen] += cw
	}

	return assigned
}

// Diff returns (adds, removes) per identity between prev and next.
func Diff(prev, next Set) (adds, removes Set) {
	identities := make(map[string]struct{})
	for id := range prev {
		identities[id] = struct{}{}
	}
	for id := range next {
		identities[id] = struct{}{}
	}
	adds, removes = make(Set, len(identities)), make(Set, len(identities))
	for id := range identities {
		adds[id] = make(map[int64]struct{})
		removes[id] = make(map[int64]struct{})
		for c := range next[id] {
			if _, ok := prev[id][c]; !ok {
				adds[id][c] = struct{}{}
			}
		}
		for c := range prev[id] {
			if _, ok := next[id][c]; !ok {
				removes[id][c] = struct{}{}
			}
		}
	}
	return adds, removes
}

// Loads returns the per-identity total weight carried by an assignment.
func Loads(s Set, weight map[int64]float64) map[string]float64 {
	out := make(map[string]float64, len(s))
	for id, chans := range s {
		var total float64
		for c := range chans {
			if v, ok := weight[c]; ok {
				total += v
			} else {
				total += 1.0
			}
		}
		out[id] = total
	}
	return out
}

// Summary renders a compact human-readable report of one reassignment
// pass: coverage delta, load imbalance before/after, per-identity counts,
// and a short add/remove sample — published alongside the assignment
// write for operators watching the scheduler's logs.
func Summary(prev, next Set, weight map[int64]float64, capacities map[string]float64, targets []int64) string {
	targetSet := make(map[int64]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}
	union := func(s Set) map[int64]struct{} {
		out := make(map[int64]struct{})
		for _, chans := range s {
			for c := range chans {
				out[c] = struct{}{}
			}
		}
		return out
	}
	prevUnion, nextUnion := union(prev), union(next)
	covered := func(u map[int64]struct{}) int {
		n := 0
		for c := range u {
			if _, ok := targetSet[c]; ok {
				n++
			}
		}
		return n
	}
	coveredPrev, coveredNext := covered(prevUnion), covered(nextUnion)
	total := len(targetSet)

	adds, removes := Diff(prev, next)
	addedTotal, removedTotal := 0, 0
	for id := range adds {
		addedTotal += len(adds[id])
		removedTotal += len(removes[id])
	}

	prevLoads, nextLoads := Loads(prev, weight), Loads(next, weight)
	minMaxAvg := func(loads map[string]float64) (min, max, avg float64) {
		if len(loads) == 0 {
			return 0, 0, 0
		}
		min, max = math.Inf(1), math.Inf(-1)
		var sum float64
		for _, v := range loads {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}
		return min, max, sum / float64(len(loads))
	}
	minPrev, maxPrev, avgPrev := minMaxAvg(prevLoads)
	minNext, maxNext, avgNext := minMaxAvg(nextLoads)

	pct := func(n, d int) float64 {
		if d == 0 {
			return 0
		}
		return float64(n) / float64(d) * 100
	}
	covPrevPct, covNextPct := pct(coveredPrev, total), pct(coveredNext, total)

	lines := []string{
		"[Assign] Realtime redistribution summary",
		fmt.Sprintf("- coverage: %d->%d of %d (%.1f%% -> %.1f%%, Δ %+.1f pp)",
			coveredPrev, coveredNext, total, covPrevPct, covNextPct, covNextPct-covPrevPct),
		fmt.Sprintf("- changes: +%d assigned, -%d removed (net %+d)",
			addedTotal, removedTotal, addedTotal-removedTotal),
		fmt.Sprintf("- load imbalance: %.2f -> %.2f (avg %.2f -> %.2f)",
			maxPrev-minPrev, maxNext-minNext, avgPrev, avgNext),
		"- per-identity:",
	}

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cap := capacities[id]
		load := nextLoads[id]
		usedPct := 0.0
		capStr := ""
		if cap > 0 && !math.IsInf(cap, 1) {
			usedPct = load / cap * 100
			capStr = fmt.Sprintf("/%.2f (%.0f%%)", cap, usedPct)
		}
		lines = append(lines, fmt.Sprintf("  • %s: chats=%d, load=%.2f%s, Δ +%d/-%d",
			id, len(next[id]), load, capStr, len(adds[id]), len(removes[id])))
	}

	const sampleLimit = 5
	for _, id := range ids {
		addSample := sortedSample(adds[id], sampleLimit)
		remSample := sortedSample(removes[id], sampleLimit)
		if len(addSample) > 0 || len(remSample) > 0 {
			lines = append(lines, fmt.Sprintf("  ◦ %s samples: add=%v, remove=%v", id, addSample, remSample))
		}
	}

	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

func sortedSample(set map[int64]struct{}, limit int) []int64 {
	out := make([]int64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

package assignment

import "testing"

func TestSolveCapacityRespected(t *testing.T) {
	chats := []int64{1, 2, 3, 4}
	eligible := map[int64][]string{
		1: {"a", "b"},
		2: {"a", "b"},
		3: {"a", "b"},
		4: {"a", "b"},
	}
	weight := map[int64]float64{1: 1, 2: 1, 3: 1, 4: 1}
	caps := map[string]float64{"a": 2, "b": 2}

	result := Solve(chats, eligible, weight, []string{"a", "b"}, caps)
	loads := Loads(result, weight)
	for id, load := range loads {
		if load > caps[id] {
			t.Fatalf("identity %s load %.2f exceeds capacity %.2f", id, load, caps[id])
		}
	}
	total := 0
	for _, chans := range result {
		total += len(chans)
	}
	if total != 4 {
		t.Fatalf("expected all 4 chats assigned, got %d", total)
	}
}

func TestSolveDropsChatsWithNoEligibleIdentity(t *testing.T) {
	chats := []int64{1, 2}
	eligible := map[int64][]string{1: {"a"}}
	weight := map[int64]float64{1: 1, 2: 1}
	result := Solve(chats, eligible, weight, []string{"a"}, nil)
	if _, ok := result["a"][2]; ok {
		t.Fatalf("chat 2 should not be assigned: no eligible identity")
	}
}

func TestSolveDeterministic(t *testing.T) {
	chats := []int64{10, 20, 30, 40, 50}
	eligible := map[int64][]string{
		10: {"a", "b", "c"},
		20: {"a", "b"},
		30: {"b", "c"},
		40: {"a", "c"},
		50: {"a", "b", "c"},
	}
	weight := map[int64]float64{10: 3, 20: 1, 30: 2, 40: 1, 50: 5}
	identities := []string{"a", "b", "c"}

	first := Solve(chats, eligible, weight, identities, nil)
	for i := 0; i < 5; i++ {
		next := Solve(chats, eligible, weight, identities, nil)
		adds, removes := Diff(first, next)
		for id := range adds {
			if len(adds[id]) != 0 || len(removes[id]) != 0 {
				t.Fatalf("re-running Solve on identical input produced a different assignment")
			}
		}
	}
}

func TestSolveRarestChatAssignedFirst(t *testing.T) {
	chats := []int64{1, 2}
	eligible := map[int64][]string{
		1: {"a", "b"},
		2: {"a"},
	}
	weight := map[int64]float64{1: 1, 2: 1}
	caps := map[string]float64{"a": 1, "b": 1}

	result := Solve(chats, eligible, weight, []string{"a", "b"}, caps)
	if _, ok := result["a"][2]; !ok {
		t.Fatalf("chat 2 (only eligible for a) should be assigned to a, got %+v", result)
	}
}

func TestDiffAndLoads(t *testing.T) {
	prev := Set{"a": {1: {}, 2: {}}, "b": {3: {}}}
	next := Set{"a": {1: {}}, "b": {3: {}, 4: {}}}
	adds, removes := Diff(prev, next)
	if len(adds["b"]) != 1 || len(removes["a"]) != 1 {
		t.Fatalf("unexpected diff: adds=%+v removes=%+v", adds, removes)
	}
	weight := map[int64]float64{1: 1, 2: 1, 3: 2, 4: 1}
	loads := Loads(next, weight)
	if loads["b"] != 3 {
		t.Fatalf("expected b load 3, got %.2f", loads["b"])
	}
}

func TestSummaryProducesNonEmptyReport(t *testing.T) {
	prev := Set{"a": {1: {}}}
	next := Set{"a": {1: {}, 2: {}}}
	weight := map[int64]float64{1: 1, 2: 1}
	caps := map[string]float64{"a": 10}
	out := Summary(prev, next, weight, caps, []int64{1, 2})
	if out == "" {
		t.Fatalf("expected non-empty summary")
	}
}

package router

import (
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// predicateEnv declares the variables a location-override predicate may
// reference: the message's normalized source city and district.
var predicateEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("city", cel.StringType),
		cel.Variable("district", cel.StringType),
	)
})

var (
	programCacheMu sync.Mutex
	programCache   = map[string]cel.Program{}
)

// compilePredicate compiles and caches expr, returning nil (and logging
// once) if it fails to compile. A broken operator-authored expression
// should never panic routing, it should just never match.
func compilePredicate(expr string) cel.Program {
	programCacheMu.Lock()
	defer programCacheMu.Unlock()

	if prg, ok := programCache[expr]; ok {
		return prg
	}

	env, err := predicateEnv()
	if err != nil {
		slog.Error("router: cel environment init failed", "error", err)
		programCache[expr] = nil
		return nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		slog.Warn("router: location override predicate failed to compile", "expr", expr, "error", issues.Err())
		programCache[expr] = nil
		return nil
	}
	prg, err := env.Program(ast)
	if err != nil {
		slog.Warn("router: location override predicate program build failed", "expr", expr, "error", err)
		programCache[expr] = nil
		return nil
	}
	programCache[expr] = prg
	return prg
}

// evalPredicate runs expr against one (city, district) pair. Any runtime
// error (wrong type, compile failure) is treated as non-matching.
func evalPredicate(expr, city, district string) bool {
	prg := compilePredicate(expr)
	if prg == nil {
		return false
	}
	out, _, err := prg.Eval(map[string]any{"city": city, "district": district})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

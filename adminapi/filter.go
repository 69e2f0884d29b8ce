package adminapi

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/sharedcode/xacoord/internal/journal"
)

// danglingEnv declares the CEL environment record filters are evaluated against: each dangling
// record's status, gtrid, uniqueNames and timestampMs, backing the FilterLogStatus diagnostic
// knob.
func danglingEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("gtrid", cel.StringType),
		cel.Variable("uniqueNames", cel.ListType(cel.StringType)),
		cel.Variable("timestampMs", cel.IntType),
	)
}

// compileFilter compiles a CEL boolean expression once, to be evaluated per record.
func compileFilter(expr string) (cel.Program, error) {
	env, err := danglingEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("xacoord/adminapi: invalid filter expression: %w", issues.Err())
	}
	return env.Program(ast)
}

// matchesFilter evaluates prg against rec, returning true if prg is nil (no filter requested).
func matchesFilter(prg cel.Program, rec journal.Record) (bool, error) {
	if prg == nil {
		return true, nil
	}
	names := make([]interface{}, len(rec.UniqueNames))
	for i, n := range rec.UniqueNames {
		names[i] = n
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"status":      rec.Status.String(),
		"gtrid":       rec.Gtrid.String(),
		"uniqueNames": types.NewDynamicList(types.DefaultTypeAdapter, names),
		"timestampMs": rec.TimestampMs,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("xacoord/adminapi: filter expression did not evaluate to a bool")
	}
	return b, nil
}

package api

import (
	"github.com/expr-lang/expr"

	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
)

// compileFilter turns a filter query into a keep predicate over payloads,
// e.g. `done == false` or `title contains "Title"`. An empty source keeps
// everything.
func compileFilter[T any](src string) (func(pkgstore.Resource[T]) (bool, error), error) {
	if src == "" {
		return nil, nil
	}
	var env T
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, badRequest("invalid filter: %v", err)
	}
	return func(res pkgstore.Resource[T]) (bool, error) {
		out, err := expr.Run(program, res.Payload)
		if err != nil {
			return false, badRequest("filter: %v", err)
		}
		keep, _ := out.(bool)
		return keep, nil
	}, nil
}

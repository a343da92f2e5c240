// Package filter selects push events with CEL expressions, e.g.
//
//	kind == "tool_call" && data.tool.startsWith("gmail")
//
// Expressions see three variables: kind (string), data (the decoded
// payload, dyn) and received_at (timestamp).
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/opsconsole/internal/bus"
)

// Filter is a compiled expression. A nil *Filter matches everything.
type Filter struct {
	expr string
	prg  cel.Program
}

var env = mustEnv()

func mustEnv() *cel.Env {
	e, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("data", cel.DynType),
		cel.Variable("received_at", cel.TimestampType),
	)
	if err != nil {
		panic(fmt.Sprintf("filter: cel env: %v", err))
	}
	return e
}

// Compile parses and type-checks expr. An empty expression yields nil.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, iss.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("filter %q: must evaluate to bool, got %s", expr, t)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter against evt. Evaluation errors (missing
// fields, wrong types) are returned with a false result.
func (f *Filter) Match(evt bus.Event) (bool, error) {
	if f == nil {
		return true, nil
	}

	var data any
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &data); err != nil {
			return false, fmt.Errorf("filter: decode %s payload: %w", evt.Kind, err)
		}
	}

	out, _, err := f.prg.Eval(map[string]any{
		"kind":        evt.Kind,
		"data":        data,
		"received_at": evt.ReceivedAt,
	})
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q: result is %s, not bool", f.expr, out.Type().TypeName())
	}
	return b, nil
}

// Package filter provides the line predicates watchers apply before a
// line can enter their window.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter decides whether a raw line is kept. The zero value accepts
// every line.
type Filter struct {
	name   string
	accept func(line string) bool
}

func (f Filter) Name() string {
	if f.name == "" {
		return "all"
	}
	return f.name
}

func (f Filter) Accept(line string) bool {
	if f.accept == nil {
		return true
	}
	return f.accept(line)
}

// All accepts every line.
func All() Filter {
	return Filter{}
}

// Regexp accepts lines matching the given Go regular expression. An
// empty expression accepts everything.
func Regexp(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All(), nil
	}
	compiled, err := regexp.Compile(expr)
	if err != nil {
		return Filter{}, fmt.Errorf("compile match expression: %w", err)
	}
	return Filter{
		name:   "regexp:" + expr,
		accept: compiled.MatchString,
	}, nil
}

// CEL accepts lines for which the expression evaluates to true. The
// expression sees the variables `line` (string) and `length` (int).
// Evaluation errors reject the line. An empty expression accepts
// everything.
func CEL(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All(), nil
	}
	env, err := cel.NewEnv(
		cel.Variable("line", cel.StringType),
		cel.Variable("length", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	accept := func(line string) bool {
		out, _, err := prog.Eval(map[string]any{
			"line":   line,
			"length": int64(len(line)),
		})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}
	return Filter{
		name:   "cel:" + expr,
		accept: accept,
	}, nil
}

// Build maps a watcher's filter configuration onto a Filter. At most
// one of match (regexp) and expr (CEL) may be set.
func Build(match, expr string) (Filter, error) {
	match = strings.TrimSpace(match)
	expr = strings.TrimSpace(expr)
	switch {
	case match != "" && expr != "":
		return Filter{}, fmt.Errorf("match and expr are mutually exclusive")
	case match != "":
		return Regexp(match)
	case expr != "":
		return CEL(expr)
	default:
		return All(), nil
	}
}

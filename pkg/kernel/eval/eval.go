// Package eval evaluates derived scenario inputs: small expr-lang
// expressions over the caller's parameters, e.g.
//
//	json({"email": requester_email})
package eval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluate compiles and runs src against vars.
func Evaluate(src string, vars map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	program, err := compile(src, expr.Env(vars))
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	return out, nil
}

// Check compiles src without an environment, so unknown variables are
// accepted. It reports syntax errors and unknown functions.
func Check(src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("empty expression")
	}
	_, err := compile(src, expr.AllowUndefinedVariables())
	return err
}

func compile(src string, opts ...expr.Option) (*vm.Program, error) {
	program, err := expr.Compile(src, append(opts, builtins()...)...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return program, nil
}

// builtins are the helpers available to every expression.
func builtins() []expr.Option {
	return []expr.Option{
		// json renders its argument as compact JSON text.
		expr.Function("json", func(params ...any) (any, error) {
			data, err := json.Marshal(params[0])
			if err != nil {
				return nil, fmt.Errorf("json: %w", err)
			}
			return string(data), nil
		}, new(func(any) string)),
		// coalesce returns the first argument that is neither nil nor "".
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if p == nil {
					continue
				}
				if s, ok := p.(string); ok && s == "" {
					continue
				}
				return p, nil
			}
			return nil, nil
		}),
	}
}

package executor

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
)

var (
	exprFuncsMu sync.RWMutex
	exprFuncs   = map[string]govaluate.ExpressionFunction{
		"len":   lenFunc,
		"first": firstFunc,
		"lower": lowerFunc,
	}
)

// RegisterExpressionFunction makes fn callable from parameter expressions.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	exprFuncsMu.Lock()
	defer exprFuncsMu.Unlock()
	exprFuncs[name] = fn
}

func functions() map[string]govaluate.ExpressionFunction {
	exprFuncsMu.RLock()
	defer exprFuncsMu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(exprFuncs))
	for k, v := range exprFuncs {
		out[k] = v
	}
	return out
}

// ValidateExpression checks that an expression parses once its references
// are substituted.
func ValidateExpression(expr string) error {
	replaced, _ := substitute(expr, func(string, string) (any, error) { return 0.0, nil })
	_, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, functions())
	return err
}

// Evaluate resolves an expression such as "$lit.count + 1" or "$lit.items[0]"
// against upstream results. A lone reference returns the referenced value
// unchanged, so lists and objects pass through.
func Evaluate(expr string, results map[string]any) (any, error) {
	lookup := func(id, accessors string) (any, error) {
		v, ok := results[id]
		if !ok {
			return nil, fmt.Errorf("no result for node '%s'", id)
		}
		return access(v, accessors)
	}

	trimmed := strings.TrimSpace(expr)
	if loc := dag.RefPattern.FindStringIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		m := dag.RefPattern.FindStringSubmatch(trimmed)
		return lookup(m[1], m[2])
	}

	replaced, vars := substitute(trimmed, lookup)
	if err, ok := vars[errKey].(error); ok {
		return nil, err
	}
	delete(vars, errKey)

	e, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, functions())
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	out, err := e.Evaluate(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return out, nil
}

const errKey = "\x00err"

// substitute replaces each reference with a generated variable name and
// returns the variables bound through lookup. The first lookup error is
// stored under errKey.
func substitute(expr string, lookup func(id, accessors string) (any, error)) (string, map[string]any) {
	vars := map[string]any{}
	n := 0
	replaced := dag.RefPattern.ReplaceAllStringFunc(expr, func(match string) string {
		m := dag.RefPattern.FindStringSubmatch(match)
		v, err := lookup(m[1], m[2])
		if err != nil {
			if _, seen := vars[errKey]; !seen {
				vars[errKey] = err
			}
			v = nil
		}
		name := "ref" + strconv.Itoa(n)
		n++
		vars[name] = normalize(v)
		return name
	})
	return replaced, vars
}

func access(v any, accessors string) (any, error) {
	for accessors != "" {
		switch accessors[0] {
		case '.':
			end := strings.IndexAny(accessors[1:], ".[")
			field := accessors[1:]
			if end >= 0 {
				field = accessors[1 : end+1]
			}
			accessors = accessors[1+len(field):]
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot read field '%s' of %T", field, v)
			}
			next, ok := m[field]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found", field)
			}
			v = next
		case '[':
			end := strings.IndexByte(accessors, ']')
			idx, err := strconv.Atoi(accessors[1:end])
			if err != nil {
				return nil, err
			}
			accessors = accessors[end+1:]
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot index %T", v)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("index %d out of range (length %d)", idx, len(arr))
			}
			v = arr[idx]
		default:
			return nil, fmt.Errorf("bad accessor %q", accessors)
		}
	}
	return v, nil
}

// list hides a slice from govaluate, which would otherwise spread a lone
// []any argument into separate function arguments.
type list []any

// normalize converts integer kinds to float64, which is what govaluate
// arithmetic expects, and wraps slices as list.
func normalize(v any) any {
	switch n := v.(type) {
	case []any:
		return list(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func lenFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len takes one argument")
	}
	if s, ok := args[0].(string); ok {
		return float64(len(s)), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len of %T", args[0])
}

func firstFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("first takes one argument")
	}
	arr, ok := args[0].(list)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("first needs a non-empty list")
	}
	return arr[0], nil
}

func lowerFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("lower takes one argument")
	}
	return strings.ToLower(fmt.Sprint(args[0])), nil
}

// Package expr implements the small expression language used in API mapping
// templates, flow action parameters and rule values. Expressions are dotted
// path references ("user.name", "items[0].id"), literals, or builtin calls
// ("concat(upper(user.name), '!')"). Text templates embed expressions inside
// {{ ... }} regions.
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/schemaflow/platform/internal/engine/path"
)

// Context is the document an expression evaluates against.
type Context map[string]interface{}

// Clone returns a deep copy of the context. Evaluators that mutate documents
// work on clones so callers keep the original.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	return Context(cloneValue(map[string]interface{}(c)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, item := range tv {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Eval evaluates a single expression. A path reference that does not resolve
// yields nil without error; structural problems (bad syntax, unknown
// function, wrong arity) are errors.
func Eval(expression string, ctx Context) (interface{}, error) {
	n, err := parse(expression)
	if err != nil {
		return nil, err
	}
	return evalNode(n, ctx)
}

// Render interpolates every {{ ... }} region of template against ctx and
// returns the resulting string. Unresolved references render as the empty
// string.
func Render(template string, ctx Context) (string, error) {
	parts, err := scanTemplate(template)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range parts {
		if !p.expr {
			sb.WriteString(p.text)
			continue
		}
		v, err := Eval(p.text, ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(Stringify(v))
	}
	return sb.String(), nil
}

// RenderValue walks v and interpolates every string it contains. A string
// that is exactly one {{ ... }} region is replaced by the typed evaluation
// result rather than its string form, so numbers and objects survive
// templating. Maps and slices are copied, never mutated.
func RenderValue(v interface{}, ctx Context) (interface{}, error) {
	switch tv := v.(type) {
	case string:
		parts, err := scanTemplate(tv)
		if err != nil {
			return nil, err
		}
		if len(parts) == 1 && parts[0].expr {
			return Eval(parts[0].text, ctx)
		}
		return Render(tv, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, item := range tv {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func evalNode(n node, ctx Context) (interface{}, error) {
	switch tn := n.(type) {
	case literalNode:
		return tn.value, nil
	case refNode:
		v, ok := path.Get(map[string]interface{}(ctx), tn.raw)
		if !ok {
			return nil, nil
		}
		return v, nil
	case callNode:
		b, ok := builtins[tn.name]
		if !ok {
			return nil, fmt.Errorf("expr: unknown function %q at offset %d", tn.name, tn.pos)
		}
		if len(tn.args) < b.minArgs || (b.maxArgs >= 0 && len(tn.args) > b.maxArgs) {
			return nil, fmt.Errorf("expr: %s expects %s, got %d", tn.name, b.arity, len(tn.args))
		}
		args := make([]interface{}, len(tn.args))
		for i, a := range tn.args {
			v, err := evalNode(a, ctx)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return b.fn(args)
	default:
		return nil, fmt.Errorf("expr: unhandled node %T", n)
	}
}

// Stringify converts an evaluation result to its template string form. nil
// renders empty, numbers drop trailing zeros, composites render as compact
// JSON.
func Stringify(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case json.Number:
		return tv.String()
	default:
		raw, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(raw)
	}
}

type part struct {
	expr bool
	text string
}

// scanTemplate splits a template into literal and expression parts. The
// closing "}}" search is quote aware so string literals inside an expression
// may contain braces.
func scanTemplate(s string) ([]part, error) {
	var parts []part
	i := 0
	for i < len(s) {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			parts = append(parts, part{text: s[i:]})
			break
		}
		if open > 0 {
			parts = append(parts, part{text: s[i : i+open]})
		}
		exprStart := i + open + 2
		end := findClose(s, exprStart)
		if end < 0 {
			return nil, fmt.Errorf("expr: unterminated {{ at offset %d", i+open)
		}
		parts = append(parts, part{expr: true, text: strings.TrimSpace(s[exprStart:end])})
		i = end + 2
	}
	if parts == nil {
		parts = []part{{text: ""}}
	}
	return parts, nil
}

func findClose(s string, from int) int {
	var quote byte
	for k := from; k < len(s); k++ {
		c := s[k]
		if quote != 0 {
			switch c {
			case '\\':
				k++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '}':
			if k+1 < len(s) && s[k+1] == '}' {
				return k
			}
		}
	}
	return -1
}

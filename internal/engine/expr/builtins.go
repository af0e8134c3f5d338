package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type builtin struct {
	minArgs int
	maxArgs int // -1 means variadic
	arity   string
	fn      func(args []interface{}) (interface{}, error)
}

var builtins = map[string]builtin{
	"upper": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		return strings.ToUpper(Stringify(args[0])), nil
	}},
	"lower": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		return strings.ToLower(Stringify(args[0])), nil
	}},
	"concat": {1, -1, "at least 1 argument", func(args []interface{}) (interface{}, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(Stringify(a))
		}
		return sb.String(), nil
	}},
	"json": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		raw, err := json.Marshal(args[0])
		if err != nil {
			return nil, fmt.Errorf("expr: json: %w", err)
		}
		return string(raw), nil
	}},
	"number": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		return ToNumber(args[0])
	}},
	"trim": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		return strings.TrimSpace(Stringify(args[0])), nil
	}},
	"default": {2, 2, "2 arguments", func(args []interface{}) (interface{}, error) {
		if args[0] == nil || args[0] == "" {
			return args[1], nil
		}
		return args[0], nil
	}},
	"len": {1, 1, "1 argument", func(args []interface{}) (interface{}, error) {
		switch v := args[0].(type) {
		case nil:
			return float64(0), nil
		case string:
			return float64(utf8.RuneCountInString(v)), nil
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		default:
			return nil, fmt.Errorf("expr: len: unsupported type %T", args[0])
		}
	}},
}

// ToNumber coerces v to a float64. Strings are parsed, booleans map to 0/1.
// Anything else, including nil, is an error.
func ToNumber(v interface{}) (float64, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case float32:
		return float64(tv), nil
	case int:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case json.Number:
		return tv.Float64()
	case bool:
		if tv {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return 0, fmt.Errorf("expr: number: cannot parse %q", tv)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expr: number: unsupported type %T", v)
	}
}

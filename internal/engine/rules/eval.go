package rules

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/path"
)

// RuleResult records the match outcome of a single rule.
type RuleResult struct {
	RuleID  string `json:"rule_id"`
	Matched bool   `json:"matched"`
}

// MappingCall is a deferred callMapping action. The engine performs no I/O;
// callers execute these against the mapping orchestrator.
type MappingCall struct {
	RuleID  string                 `json:"rule_id"`
	Mapping string                 `json:"mapping"`
	Input   map[string]interface{} `json:"input,omitempty"`
}

// Outcome is the result of evaluating a rule set: per-rule results, the
// mutated working document, emitted events and deferred mapping calls.
type Outcome struct {
	Matched bool          `json:"matched"`
	Results []RuleResult  `json:"results"`
	Doc     expr.Context  `json:"doc"`
	Events  []string      `json:"events,omitempty"`
	Calls   []MappingCall `json:"calls,omitempty"`
}

// EvalCondition evaluates a single condition tree against doc. Cancellation
// of ctx is honored between children.
func EvalCondition(ctx context.Context, c Condition, doc expr.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch c.Kind {
	case KindAll:
		for _, child := range c.Children {
			ok, err := EvalCondition(ctx, child, doc)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindAny:
		for _, child := range c.Children {
			ok, err := EvalCondition(ctx, child, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		if len(c.Children) != 1 {
			return false, fmt.Errorf("rules: not requires exactly one child")
		}
		ok, err := EvalCondition(ctx, c.Children[0], doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case KindCompare:
		return evalCompare(c, doc)
	case KindExpr:
		return evalCEL(c.Expr, doc)
	default:
		return false, fmt.Errorf("rules: unknown condition kind %q", c.Kind)
	}
}

// EvalRuleSet evaluates every enabled rule in priority order against a clone
// of doc. Set actions are visible to later rules; emit and callMapping
// actions accumulate on the outcome.
func EvalRuleSet(ctx context.Context, rs RuleSet, doc expr.Context) (*Outcome, error) {
	ordered := make([]Rule, len(rs.Rules))
	copy(ordered, rs.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := &Outcome{Doc: doc.Clone()}
	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.Disabled {
			continue
		}
		matched, err := EvalCondition(ctx, r.When, out.Doc)
		if err != nil {
			return nil, fmt.Errorf("rules: rule %q: %w", r.ID, err)
		}
		out.Results = append(out.Results, RuleResult{RuleID: r.ID, Matched: matched})
		if !matched {
			continue
		}
		out.Matched = true
		for _, a := range r.Actions {
			if err := applyAction(a, r.ID, out); err != nil {
				return nil, fmt.Errorf("rules: rule %q: %w", r.ID, err)
			}
		}
	}
	return out, nil
}

func applyAction(a Action, ruleID string, out *Outcome) error {
	switch a.Kind {
	case ActionSet:
		v, err := expr.RenderValue(a.Value, out.Doc)
		if err != nil {
			return err
		}
		return path.Set(out.Doc, a.Path, v)
	case ActionEmit:
		out.Events = append(out.Events, a.Event)
		return nil
	case ActionCallMapping:
		call := MappingCall{RuleID: ruleID, Mapping: a.Mapping}
		if a.Input != nil {
			v, err := expr.RenderValue(a.Input, out.Doc)
			if err != nil {
				return err
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return fmt.Errorf("callMapping input must render to an object, got %T", v)
			}
			call.Input = m
		}
		out.Calls = append(out.Calls, call)
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// operand resolves a condition operand. Strings run through the template
// engine so "{{ user.age }}" compares the referenced value while plain
// strings compare literally.
func operand(v interface{}, doc expr.Context) (interface{}, error) {
	if s, ok := v.(string); ok {
		return expr.RenderValue(s, doc)
	}
	return v, nil
}

func evalCompare(c Condition, doc expr.Context) (bool, error) {
	if c.Op == OpExists {
		s, ok := c.Left.(string)
		if !ok {
			return false, fmt.Errorf("exists: left side must be a path string, got %T", c.Left)
		}
		_, found := path.Get(map[string]interface{}(doc), stripRegion(s))
		return found, nil
	}

	left, err := operand(c.Left, doc)
	if err != nil {
		return false, err
	}
	right, err := operand(c.Right, doc)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case OpEq:
		return looseEqual(left, right), nil
	case OpNe:
		return !looseEqual(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return evalOrdering(c.Op, left, right)
	case OpContains:
		switch l := left.(type) {
		case string:
			return strings.Contains(l, expr.Stringify(right)), nil
		case []interface{}:
			for _, item := range l {
				if looseEqual(item, right) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("contains: unsupported left type %T", left)
		}
	case OpStartsWith:
		return strings.HasPrefix(expr.Stringify(left), expr.Stringify(right)), nil
	case OpEndsWith:
		return strings.HasSuffix(expr.Stringify(left), expr.Stringify(right)), nil
	case OpIn:
		items, ok := right.([]interface{})
		if !ok {
			return false, fmt.Errorf("in: right side must be a list, got %T", right)
		}
		for _, item := range items {
			if looseEqual(left, item) {
				return true, nil
			}
		}
		return false, nil
	case OpMatches:
		re, err := regexp.Compile(expr.Stringify(right))
		if err != nil {
			return false, fmt.Errorf("matches: %v", err)
		}
		return re.MatchString(expr.Stringify(left)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

func evalOrdering(op string, left, right interface{}) (bool, error) {
	ln, lerr := numeric(left)
	rn, rerr := numeric(right)
	if lerr == nil && rerr == nil {
		switch op {
		case OpGt:
			return ln > rn, nil
		case OpGte:
			return ln >= rn, nil
		case OpLt:
			return ln < rn, nil
		case OpLte:
			return ln <= rn, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case OpGt:
			return ls > rs, nil
		case OpGte:
			return ls >= rs, nil
		case OpLt:
			return ls < rs, nil
		case OpLte:
			return ls <= rs, nil
		}
	}
	return false, fmt.Errorf("%s: cannot order %T and %T", op, left, right)
}

func numeric(v interface{}) (float64, error) {
	switch v.(type) {
	case float64, float32, int, int64:
		return expr.ToNumber(v)
	default:
		return 0, fmt.Errorf("not numeric")
	}
}

// looseEqual unifies numeric types before comparing and falls back to deep
// equality for composites. Strings and booleans compare strictly.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aerr := numeric(a)
	bn, berr := numeric(b)
	if aerr == nil && berr == nil {
		return an == bn
	}
	if (aerr == nil) != (berr == nil) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// stripRegion unwraps "{{ p }}" to "p" so exists paths may be written either
// bare or templated.
func stripRegion(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "{{") && strings.HasSuffix(t, "}}") {
		return strings.TrimSpace(t[2 : len(t)-2])
	}
	return t
}

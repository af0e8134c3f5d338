// Package rules evaluates declarative condition trees and rule sets against
// JSON-shaped documents. Conditions combine with all/any/not, compare two
// templated values, or delegate to a CEL expression. Rule actions mutate the
// working document, emit named events, or request an API mapping call; the
// engine itself performs no I/O.
package rules

import (
	"fmt"
	"regexp"

	"github.com/schemaflow/platform/internal/engine/path"
)

// Condition kinds.
const (
	KindAll     = "all"
	KindAny     = "any"
	KindNot     = "not"
	KindCompare = "compare"
	KindExpr    = "expr"
)

// Comparison operators accepted by compare conditions.
const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpIn         = "in"
	OpExists     = "exists"
	OpMatches    = "matches"
)

var compareOps = map[string]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpContains: {}, OpStartsWith: {}, OpEndsWith: {}, OpIn: {},
	OpExists: {}, OpMatches: {},
}

// Action kinds.
const (
	ActionSet         = "set"
	ActionEmit        = "emit"
	ActionCallMapping = "callMapping"
)

// Condition is one node of a condition tree.
type Condition struct {
	Kind     string      `json:"kind"`
	Children []Condition `json:"children,omitempty"`
	Left     interface{} `json:"left,omitempty"`
	Op       string      `json:"op,omitempty"`
	Right    interface{} `json:"right,omitempty"`
	Expr     string      `json:"expr,omitempty"`
}

// Action describes what a matched rule does.
type Action struct {
	Kind    string      `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Value   interface{} `json:"value,omitempty"`
	Event   string      `json:"event,omitempty"`
	Mapping string      `json:"mapping,omitempty"`
	Input   interface{} `json:"input,omitempty"`
}

// Rule pairs a condition with the actions applied when it matches.
// Higher Priority evaluates first; ties break on ID.
type Rule struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	When        Condition `json:"when"`
	Actions     []Action  `json:"actions,omitempty"`
}

// RuleSet is an ordered collection of rules evaluated together.
type RuleSet struct {
	Key   string `json:"key,omitempty"`
	Rules []Rule `json:"rules"`
}

// Validate checks a rule set structurally: unique rule IDs, known condition
// kinds and operators, well-formed action targets, and compilable CEL and
// regular expressions. It does not evaluate anything.
func Validate(rs RuleSet) error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rules: rule set has no rules")
	}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("rules: rule %d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rules: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if err := validateCondition(r.When); err != nil {
			return fmt.Errorf("rules: rule %q: %w", r.ID, err)
		}
		for j, a := range r.Actions {
			if err := validateAction(a); err != nil {
				return fmt.Errorf("rules: rule %q action %d: %w", r.ID, j, err)
			}
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	switch c.Kind {
	case KindAll, KindAny:
		for _, child := range c.Children {
			if err := validateCondition(child); err != nil {
				return err
			}
		}
		return nil
	case KindNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("not requires exactly one child, got %d", len(c.Children))
		}
		return validateCondition(c.Children[0])
	case KindCompare:
		if _, ok := compareOps[c.Op]; !ok {
			return fmt.Errorf("unknown operator %q", c.Op)
		}
		if c.Op == OpExists {
			s, ok := c.Left.(string)
			if !ok || s == "" {
				return fmt.Errorf("exists requires a path string on the left")
			}
			if _, err := path.Split(stripRegion(s)); err != nil {
				return err
			}
		}
		if c.Op == OpMatches {
			pattern, ok := c.Right.(string)
			if !ok {
				return fmt.Errorf("matches requires a pattern string on the right")
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("matches pattern: %v", err)
			}
		}
		return nil
	case KindExpr:
		if c.Expr == "" {
			return fmt.Errorf("expr condition has no expression")
		}
		if _, err := compileCEL(c.Expr); err != nil {
			return fmt.Errorf("cel: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func validateAction(a Action) error {
	switch a.Kind {
	case ActionSet:
		if _, err := path.Split(a.Path); err != nil {
			return err
		}
		return nil
	case ActionEmit:
		if a.Event == "" {
			return fmt.Errorf("emit requires an event name")
		}
		return nil
	case ActionCallMapping:
		if a.Mapping == "" {
			return fmt.Errorf("callMapping requires a mapping key")
		}
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

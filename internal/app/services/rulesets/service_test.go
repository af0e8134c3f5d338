package rulesets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	artifactssvc "github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/app/storage/memory"
	"github.com/schemaflow/platform/internal/engine/rules"
)

const discountSpec = `{
	"rules": [{
		"id": "large-order",
		"when": {"kind": "compare", "left": "{{ order.total }}", "op": "gte", "right": 100},
		"actions": [
			{"kind": "set", "path": "order.discount", "value": 15},
			{"kind": "emit", "event": "discount.applied"}
		]
	}]
}`

func newService(t *testing.T) (*Service, *artifactssvc.Service) {
	t.Helper()
	arts := artifactssvc.New(memory.New(), nil)
	return New(arts, nil), arts
}

func storeRuleSet(t *testing.T, arts *artifactssvc.Service, publish bool) artifact.Artifact {
	t.Helper()
	art, err := arts.Create(context.Background(), artifact.Artifact{
		TenantID: "t1",
		Kind:     artifact.KindRuleSet,
		Key:      "discounts",
		Spec:     json.RawMessage(discountSpec),
	})
	if err != nil {
		t.Fatalf("create ruleset: %v", err)
	}
	if publish {
		if art, err = arts.Publish(context.Background(), art.ID); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	return art
}

func TestServiceEval(t *testing.T) {
	svc, arts := newService(t)
	storeRuleSet(t, arts, true)

	out, err := svc.Eval(context.Background(), "t1", "discounts", map[string]interface{}{
		"order": map[string]interface{}{"total": float64(250)},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !out.Matched {
		t.Fatal("expected a match")
	}
	if got := out.Events; len(got) != 1 || got[0] != "discount.applied" {
		t.Fatalf("events = %v", got)
	}
	order := out.Doc["order"].(map[string]interface{})
	if order["discount"] != float64(15) {
		t.Fatalf("discount = %v", order["discount"])
	}
}

func TestServiceEvalRequiresPublished(t *testing.T) {
	svc, arts := newService(t)
	draft := storeRuleSet(t, arts, false)

	if _, err := svc.Eval(context.Background(), "t1", "discounts", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for unpublished ruleset, got %v", err)
	}

	out, err := svc.EvalVersion(context.Background(), "t1", "discounts", draft.Version, map[string]interface{}{
		"order": map[string]interface{}{"total": float64(10)},
	})
	if err != nil {
		t.Fatalf("eval version: %v", err)
	}
	if out.Matched {
		t.Fatal("small order should not match")
	}
}

func TestServiceTest(t *testing.T) {
	svc, _ := newService(t)

	rs := rules.RuleSet{Rules: []rules.Rule{{
		ID:      "flag",
		When:    rules.Condition{Kind: rules.KindCompare, Left: "{{ user.country }}", Op: rules.OpEq, Right: "DE"},
		Actions: []rules.Action{{Kind: rules.ActionSet, Path: "user.eu", Value: true}},
	}}}

	out, err := svc.Test(context.Background(), rs, map[string]interface{}{
		"user": map[string]interface{}{"country": "DE"},
	})
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !out.Matched {
		t.Fatal("expected a match")
	}

	rs.Rules[0].When.Op = "near"
	if _, err := svc.Test(context.Background(), rs, nil); err == nil {
		t.Fatal("expected validation error for unknown operator")
	}
}

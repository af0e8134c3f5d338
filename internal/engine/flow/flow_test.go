package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/rules"
)

func checkoutGraph() Graph {
	ageGate := &rules.Condition{
		Kind: rules.KindCompare, Left: "{{ customer.age }}", Op: rules.OpGte, Right: float64(18),
	}
	return Graph{
		Initial: "cart",
		Nodes: []Node{
			{
				ID:   "cart",
				Kind: NodePage,
				Transitions: []Transition{
					{Event: "checkout", Target: "verify", Actions: []rules.Action{
						{Kind: rules.ActionSet, Path: "checkout.startedBy", Value: "{{ customer.name }}"},
					}},
					{Event: "abandon", Target: "done"},
				},
			},
			{
				ID:   "verify",
				Kind: NodeDecision,
				Transitions: []Transition{
					{Target: "payment", Guard: ageGate, Actions: []rules.Action{
						{Kind: rules.ActionEmit, Event: "verified"},
					}},
					{Target: "rejected"},
				},
			},
			{
				ID:   "payment",
				Kind: NodePage,
				Transitions: []Transition{
					{Event: "pay", Target: "done", Actions: []rules.Action{
						{Kind: rules.ActionCallMapping, Mapping: "charge", Input: map[string]interface{}{
							"amount": "{{ cart.total }}",
						}},
					}},
				},
			},
			{ID: "rejected", Kind: NodeTerminal},
			{ID: "done", Kind: NodeTerminal},
		},
	}
}

func seedCtx() expr.Context {
	return expr.Context{
		"customer": map[string]interface{}{"name": "ada", "age": float64(36)},
		"cart":     map[string]interface{}{"total": float64(99.5)},
	}
}

func TestCompileValid(t *testing.T) {
	m, err := Compile(checkoutGraph())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if m.Initial() != "cart" {
		t.Fatalf("Initial = %q", m.Initial())
	}
	want := []string{"cart", "done", "payment", "rejected", "verify"}
	got := m.States()
	if len(got) != len(want) {
		t.Fatalf("States = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("States = %v, want %v", got, want)
		}
	}
}

func TestCompileRejectsBadGraphs(t *testing.T) {
	base := checkoutGraph()

	cases := []struct {
		name    string
		mutate  func(g *Graph)
		wantSub string
	}{
		{"no nodes", func(g *Graph) { g.Nodes = nil }, "no nodes"},
		{"no initial", func(g *Graph) { g.Initial = "" }, "no initial"},
		{"missing initial", func(g *Graph) { g.Initial = "nope" }, "does not exist"},
		{"dup id", func(g *Graph) { g.Nodes = append(g.Nodes, Node{ID: "cart", Kind: NodePage}) }, "duplicate"},
		{"bad kind", func(g *Graph) { g.Nodes[0].Kind = "modal" }, "unknown kind"},
		{"bad target", func(g *Graph) { g.Nodes[0].Transitions[0].Target = "ghost" }, "unknown node"},
		{"terminal transitions", func(g *Graph) {
			g.Nodes[4].Transitions = []Transition{{Event: "x", Target: "cart"}}
		}, "terminal"},
		{"decision without transitions", func(g *Graph) { g.Nodes[1].Transitions = nil }, "no transitions"},
		{"decision with event", func(g *Graph) { g.Nodes[1].Transitions[0].Event = "go" }, "must not name an event"},
		{"page without event", func(g *Graph) { g.Nodes[0].Transitions[0].Event = "" }, "has no event"},
		{"fallback not last", func(g *Graph) {
			g.Nodes[1].Transitions[0], g.Nodes[1].Transitions[1] = g.Nodes[1].Transitions[1], g.Nodes[1].Transitions[0]
		}, "declared last"},
		{"unreachable", func(g *Graph) {
			g.Nodes = append(g.Nodes, Node{ID: "island", Kind: NodeTerminal})
		}, "unreachable"},
	}
	for _, tc := range cases {
		g := base
		g.Nodes = make([]Node, len(base.Nodes))
		for i, n := range base.Nodes {
			g.Nodes[i] = n
			g.Nodes[i].Transitions = append([]Transition(nil), n.Transitions...)
		}
		tc.mutate(&g)
		_, err := Compile(g)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Fatalf("%s: error = %q, want substring %q", tc.name, err, tc.wantSub)
		}
	}
}

func TestSessionWalk(t *testing.T) {
	m, err := Compile(checkoutGraph())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx := context.Background()

	sess, steps, err := m.StartSession(ctx, "s1", "t1", "checkout", 1, seedCtx())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Current != "cart" || sess.Status != StatusActive || len(steps) != 0 {
		t.Fatalf("start: current=%q status=%q steps=%d", sess.Current, sess.Status, len(steps))
	}

	// checkout fires the page transition, then the verify decision
	// auto-advances to payment.
	steps, err = m.Fire(ctx, sess, "checkout", map[string]interface{}{"coupon": "SPRING"})
	if err != nil {
		t.Fatalf("Fire(checkout): %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[0].From != "cart" || steps[0].To != "verify" || steps[0].Event != "checkout" {
		t.Fatalf("step 0 = %+v", steps[0])
	}
	if steps[1].From != "verify" || steps[1].To != "payment" || steps[1].Event != "" {
		t.Fatalf("step 1 = %+v", steps[1])
	}
	if len(steps[1].Events) != 1 || steps[1].Events[0] != "verified" {
		t.Fatalf("decision events = %v", steps[1].Events)
	}
	if sess.Current != "payment" {
		t.Fatalf("current = %q", sess.Current)
	}
	if got, _ := sess.Context["checkout"].(map[string]interface{})["startedBy"]; got != "ada" {
		t.Fatalf("set action missed: %v", got)
	}
	if in, _ := sess.Context["input"].(map[string]interface{}); in["coupon"] != "SPRING" {
		t.Fatalf("payload not merged: %v", sess.Context["input"])
	}

	// pay reaches the terminal and carries the mapping call.
	steps, err = m.Fire(ctx, sess, "pay", nil)
	if err != nil {
		t.Fatalf("Fire(pay): %v", err)
	}
	if sess.Status != StatusCompleted || sess.Current != "done" {
		t.Fatalf("final: %q %q", sess.Status, sess.Current)
	}
	if len(steps[0].Calls) != 1 || steps[0].Calls[0].Mapping != "charge" {
		t.Fatalf("calls = %+v", steps[0].Calls)
	}
	if steps[0].Calls[0].Input["amount"] != float64(99.5) {
		t.Fatalf("call input = %+v", steps[0].Calls[0].Input)
	}
	if len(sess.History) != 3 {
		t.Fatalf("history = %d", len(sess.History))
	}

	// Completed sessions reject further events.
	if _, err := m.Fire(ctx, sess, "pay", nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestDecisionRoutesToFallback(t *testing.T) {
	m, err := Compile(checkoutGraph())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	seed := seedCtx()
	seed["customer"].(map[string]interface{})["age"] = float64(15)

	sess, _, err := m.StartSession(context.Background(), "s2", "t1", "checkout", 1, seed)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := m.Fire(context.Background(), sess, "checkout", nil); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if sess.Current != "rejected" || sess.Status != StatusCompleted {
		t.Fatalf("current=%q status=%q", sess.Current, sess.Status)
	}
}

func TestFireNoTransitionLeavesSessionUntouched(t *testing.T) {
	m, err := Compile(checkoutGraph())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	sess, _, err := m.StartSession(context.Background(), "s3", "t1", "checkout", 1, seedCtx())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	_, err = m.Fire(context.Background(), sess, "unknown-event", map[string]interface{}{"x": 1})
	if !errors.Is(err, ErrNoTransition) {
		t.Fatalf("err = %v, want ErrNoTransition", err)
	}
	if sess.Current != "cart" || len(sess.History) != 0 {
		t.Fatalf("session mutated: %+v", sess)
	}
	if _, ok := sess.Context["input"]; ok {
		t.Fatal("payload leaked into session context")
	}
}

func TestStartSessionThroughInitialDecision(t *testing.T) {
	g := Graph{
		Initial: "route",
		Nodes: []Node{
			{ID: "route", Kind: NodeDecision, Transitions: []Transition{
				{Target: "vip", Guard: &rules.Condition{
					Kind: rules.KindCompare, Left: "{{ tier }}", Op: rules.OpEq, Right: "gold",
				}},
				{Target: "standard"},
			}},
			{ID: "vip", Kind: NodePage, Transitions: []Transition{{Event: "next", Target: "exit"}}},
			{ID: "standard", Kind: NodePage, Transitions: []Transition{{Event: "next", Target: "exit"}}},
			{ID: "exit", Kind: NodeTerminal},
		},
	}
	m, err := Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	sess, steps, err := m.StartSession(context.Background(), "s4", "t1", "routing", 1, expr.Context{"tier": "gold"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Current != "vip" || len(steps) != 1 || len(sess.History) != 1 {
		t.Fatalf("current=%q steps=%d", sess.Current, len(steps))
	}

	sess2, _, err := m.StartSession(context.Background(), "s5", "t1", "routing", 1, expr.Context{"tier": "basic"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess2.Current != "standard" {
		t.Fatalf("current = %q", sess2.Current)
	}
}

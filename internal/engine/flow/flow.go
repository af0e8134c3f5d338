// Package flow compiles declarative flow graphs (pages joined by
// event-triggered transitions) into executable state machines and advances
// persisted sessions through them. Decision nodes route on guard conditions
// without waiting for an event; terminal nodes complete the session.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/path"
	"github.com/schemaflow/platform/internal/engine/rules"
)

// Node kinds.
const (
	NodePage     = "page"
	NodeDecision = "decision"
	NodeTerminal = "terminal"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// maxAutoHops bounds decision auto-advancement so a guard cycle cannot spin
// forever.
const maxAutoHops = 64

var (
	// ErrNoTransition is returned by Fire when the current node has no
	// transition matching the event whose guard passes.
	ErrNoTransition = errors.New("flow: no matching transition")
	// ErrSessionClosed is returned when firing events at a session that is
	// no longer active.
	ErrSessionClosed = errors.New("flow: session is not active")
)

// Graph is the declarative flow definition authored in the builder.
type Graph struct {
	Initial string `json:"initial"`
	Nodes   []Node `json:"nodes"`
}

// Node is a single state of the flow.
type Node struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Transitions []Transition           `json:"transitions,omitempty"`
}

// Transition moves the flow to Target. Page transitions trigger on Event;
// decision transitions leave Event empty and route on their guards in
// declared order, with an optional guard-less fallback declared last.
type Transition struct {
	Event   string           `json:"event,omitempty"`
	Target  string           `json:"target"`
	Guard   *rules.Condition `json:"guard,omitempty"`
	Actions []rules.Action   `json:"actions,omitempty"`
}

// Machine is a compiled, validated graph. It is immutable and safe for
// concurrent use across sessions.
type Machine struct {
	initial string
	nodes   map[string]Node
}

// Step records one committed transition of a session.
type Step struct {
	From   string              `json:"from"`
	Event  string              `json:"event,omitempty"`
	To     string              `json:"to"`
	Events []string            `json:"events,omitempty"`
	Calls  []rules.MappingCall `json:"calls,omitempty"`
	At     time.Time           `json:"at"`
}

// Session is the persisted execution state of one flow run.
type Session struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"`
	FlowKey     string       `json:"flow_key"`
	FlowVersion int          `json:"flow_version"`
	Current     string       `json:"current"`
	Status      string       `json:"status"`
	Context     expr.Context `json:"context"`
	History     []Step       `json:"history,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ParseGraph decodes a graph from its stored JSON spec.
func ParseGraph(spec []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(spec, &g); err != nil {
		return Graph{}, fmt.Errorf("flow: decode graph: %w", err)
	}
	return g, nil
}

// Compile validates a graph and returns its executable machine. All targets
// must exist, node IDs must be unique, terminal nodes must be bare, decision
// nodes must route purely on guards, and every node must be reachable from
// the initial node.
func Compile(g Graph) (*Machine, error) {
	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("flow: graph has no nodes")
	}
	if g.Initial == "" {
		return nil, fmt.Errorf("flow: graph has no initial node")
	}

	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("flow: node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, fmt.Errorf("flow: duplicate node id %q", n.ID)
		}
		switch n.Kind {
		case NodePage, NodeDecision, NodeTerminal:
		default:
			return nil, fmt.Errorf("flow: node %q has unknown kind %q", n.ID, n.Kind)
		}
		nodes[n.ID] = n
	}
	if _, ok := nodes[g.Initial]; !ok {
		return nil, fmt.Errorf("flow: initial node %q does not exist", g.Initial)
	}

	for _, n := range g.Nodes {
		if n.Kind == NodeTerminal && len(n.Transitions) > 0 {
			return nil, fmt.Errorf("flow: terminal node %q has transitions", n.ID)
		}
		if n.Kind == NodeDecision && len(n.Transitions) == 0 {
			return nil, fmt.Errorf("flow: decision node %q has no transitions", n.ID)
		}
		fallbacks := 0
		for i, t := range n.Transitions {
			if t.Target == "" {
				return nil, fmt.Errorf("flow: node %q transition %d has no target", n.ID, i)
			}
			if _, ok := nodes[t.Target]; !ok {
				return nil, fmt.Errorf("flow: node %q transition %d targets unknown node %q", n.ID, i, t.Target)
			}
			switch n.Kind {
			case NodePage:
				if t.Event == "" {
					return nil, fmt.Errorf("flow: page node %q transition %d has no event", n.ID, i)
				}
			case NodeDecision:
				if t.Event != "" {
					return nil, fmt.Errorf("flow: decision node %q transition %d must not name an event", n.ID, i)
				}
				if t.Guard == nil {
					fallbacks++
					if i != len(n.Transitions)-1 {
						return nil, fmt.Errorf("flow: decision node %q fallback transition must be declared last", n.ID)
					}
				}
			}
			for j, a := range t.Actions {
				if err := validateTransitionAction(a); err != nil {
					return nil, fmt.Errorf("flow: node %q transition %d action %d: %v", n.ID, i, j, err)
				}
			}
		}
		if fallbacks > 1 {
			return nil, fmt.Errorf("flow: decision node %q has multiple fallback transitions", n.ID)
		}
	}

	if unreachable := findUnreachable(g.Initial, nodes); len(unreachable) > 0 {
		return nil, fmt.Errorf("flow: nodes unreachable from %q: %v", g.Initial, unreachable)
	}

	return &Machine{initial: g.Initial, nodes: nodes}, nil
}

func validateTransitionAction(a rules.Action) error {
	switch a.Kind {
	case rules.ActionSet:
		_, err := path.Split(a.Path)
		return err
	case rules.ActionEmit:
		if a.Event == "" {
			return errors.New("emit requires an event name")
		}
		return nil
	case rules.ActionCallMapping:
		if a.Mapping == "" {
			return errors.New("callMapping requires a mapping key")
		}
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func findUnreachable(initial string, nodes map[string]Node) []string {
	seen := map[string]bool{initial: true}
	queue := []string{initial}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range nodes[id].Transitions {
			if !seen[t.Target] {
				seen[t.Target] = true
				queue = append(queue, t.Target)
			}
		}
	}
	var missing []string
	for id := range nodes {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// Initial returns the machine's starting node id.
func (m *Machine) Initial() string { return m.initial }

// States returns all node ids in sorted order.
func (m *Machine) States() []string {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Node looks up a node definition by id.
func (m *Machine) Node(id string) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// StartSession creates an active session positioned at the initial node,
// auto-advancing through any leading decision nodes. The seed context is
// cloned.
func (m *Machine) StartSession(ctx context.Context, id, tenantID, flowKey string, flowVersion int, seed expr.Context) (*Session, []Step, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          id,
		TenantID:    tenantID,
		FlowKey:     flowKey,
		FlowVersion: flowVersion,
		Current:     m.initial,
		Status:      StatusActive,
		Context:     seed.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	current, steps, status, err := m.autoAdvance(ctx, m.initial, sess.Context, nil)
	if err != nil {
		return nil, nil, err
	}
	sess.Current = current
	sess.Status = status
	sess.History = append(sess.History, steps...)
	return sess, steps, nil
}

// Fire applies one event to an active session. On success the returned steps
// include the event transition plus any decision auto-advances, all already
// committed to the session. On error the session is unchanged.
func (m *Machine) Fire(ctx context.Context, sess *Session, event string, payload map[string]interface{}) ([]Step, error) {
	if sess.Status != StatusActive {
		return nil, ErrSessionClosed
	}
	node, ok := m.nodes[sess.Current]
	if !ok {
		return nil, fmt.Errorf("flow: session %s is at unknown state %q", sess.ID, sess.Current)
	}

	doc := sess.Context.Clone()
	if payload != nil {
		doc["input"] = payload
	}

	var chosen *Transition
	for i := range node.Transitions {
		t := &node.Transitions[i]
		if t.Event != event {
			continue
		}
		pass, err := guardPasses(ctx, t.Guard, doc)
		if err != nil {
			return nil, fmt.Errorf("flow: node %q event %q: %w", node.ID, event, err)
		}
		if pass {
			chosen = t
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: state %q event %q", ErrNoTransition, sess.Current, event)
	}

	step, err := takeTransition(node.ID, event, chosen, doc)
	if err != nil {
		return nil, err
	}
	current, steps, status, err := m.autoAdvance(ctx, chosen.Target, doc, []Step{step})
	if err != nil {
		return nil, err
	}

	sess.Context = doc
	sess.Current = current
	sess.Status = status
	sess.History = append(sess.History, steps...)
	sess.UpdatedAt = time.Now().UTC()
	return steps, nil
}

// autoAdvance follows decision nodes from current until a page or terminal
// node is reached, appending a step per hop. A decision with no passing
// guard, or a chain longer than maxAutoHops, is an error.
func (m *Machine) autoAdvance(ctx context.Context, current string, doc expr.Context, steps []Step) (string, []Step, string, error) {
	for hops := 0; ; hops++ {
		if hops > maxAutoHops {
			return "", nil, "", fmt.Errorf("flow: decision chain exceeded %d hops at %q", maxAutoHops, current)
		}
		node := m.nodes[current]
		switch node.Kind {
		case NodeTerminal:
			return current, steps, StatusCompleted, nil
		case NodePage:
			return current, steps, StatusActive, nil
		}

		var chosen *Transition
		for i := range node.Transitions {
			t := &node.Transitions[i]
			pass, err := guardPasses(ctx, t.Guard, doc)
			if err != nil {
				return "", nil, "", fmt.Errorf("flow: decision %q: %w", node.ID, err)
			}
			if pass {
				chosen = t
				break
			}
		}
		if chosen == nil {
			return "", nil, "", fmt.Errorf("flow: decision %q matched no transition", node.ID)
		}
		step, err := takeTransition(node.ID, "", chosen, doc)
		if err != nil {
			return "", nil, "", err
		}
		steps = append(steps, step)
		current = chosen.Target
	}
}

func guardPasses(ctx context.Context, guard *rules.Condition, doc expr.Context) (bool, error) {
	if guard == nil {
		return true, nil
	}
	return rules.EvalCondition(ctx, *guard, doc)
}

// takeTransition applies a transition's actions to doc and returns the step.
// set actions mutate the document, emit and callMapping accumulate on the
// step for the caller to dispatch.
func takeTransition(from, event string, t *Transition, doc expr.Context) (Step, error) {
	step := Step{From: from, Event: event, To: t.Target, At: time.Now().UTC()}
	for _, a := range t.Actions {
		switch a.Kind {
		case rules.ActionSet:
			v, err := expr.RenderValue(a.Value, doc)
			if err != nil {
				return Step{}, fmt.Errorf("flow: transition %s->%s: %w", from, t.Target, err)
			}
			if err := path.Set(doc, a.Path, v); err != nil {
				return Step{}, fmt.Errorf("flow: transition %s->%s: %w", from, t.Target, err)
			}
		case rules.ActionEmit:
			step.Events = append(step.Events, a.Event)
		case rules.ActionCallMapping:
			call := rules.MappingCall{Mapping: a.Mapping}
			if a.Input != nil {
				v, err := expr.RenderValue(a.Input, doc)
				if err != nil {
					return Step{}, fmt.Errorf("flow: transition %s->%s: %w", from, t.Target, err)
				}
				m, ok := v.(map[string]interface{})
				if !ok {
					return Step{}, fmt.Errorf("flow: transition %s->%s: callMapping input must be an object", from, t.Target)
				}
				call.Input = m
			}
			step.Calls = append(step.Calls, call)
		default:
			return Step{}, fmt.Errorf("flow: unknown action kind %q", a.Kind)
		}
	}
	return step, nil
}

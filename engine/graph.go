package engine

import (
	"fmt"
	"strings"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/model"
)

// adjacency builds the outgoing edge list and in-degree per activity.
func adjacency(def *model.WorkflowDefinition) (out map[model.ID][]model.ID, indeg map[model.ID]int) {
	indeg = map[model.ID]int{}
	out = map[model.ID][]model.ID{}
	for _, a := range def.Activities {
		indeg[a.ID] = 0
	}
	for _, t := range def.Transitions {
		out[t.From] = append(out[t.From], t.To)
		indeg[t.To]++
	}
	return out, indeg
}

// reachable walks the graph breadth-first from start.
func reachable(def *model.WorkflowDefinition, start model.ID) map[model.ID]bool {
	out, _ := adjacency(def)
	seen := map[model.ID]bool{start: true}
	q := []model.ID{start}
	for len(q) > 0 {
		v := q[0]
		q = q[1:]
		for _, u := range out[v] {
			if !seen[u] {
				seen[u] = true
				q = append(q, u)
			}
		}
	}
	return seen
}

// route picks the single transition to follow out of an activity.
// Conditioned transitions win when exactly one holds; otherwise the sole
// unconditioned transition is the default.
func route(ev *expr.Engine, def *model.WorkflowDefinition, act *model.Activity, ctx expr.Context) (*model.Transition, error) {
	outgoing := def.Outgoing(act.ID)
	var held, defaults []model.Transition
	for _, t := range outgoing {
		if strings.TrimSpace(t.Condition) == "" {
			defaults = append(defaults, t)
			continue
		}
		if holds(ev, t.Condition, ctx) {
			held = append(held, t)
		}
	}
	switch {
	case len(held) == 1:
		return &held[0], nil
	case len(held) > 1:
		return nil, fmt.Errorf("activity %s: %d conditions hold: %w", act.ID, len(held), ErrAmbiguousBranch)
	case len(defaults) == 1:
		return &defaults[0], nil
	case len(defaults) > 1:
		return nil, fmt.Errorf("activity %s: %d unconditioned transitions: %w", act.ID, len(defaults), ErrAmbiguousBranch)
	}
	return nil, fmt.Errorf("activity %s: %w", act.ID, ErrDeadEnd)
}

func holds(ev *expr.Engine, cond string, ctx expr.Context) bool {
	tpl := cond
	if !expr.Contains(cond) {
		tpl = "{{" + cond + "}}"
	}
	return strings.EqualFold(strings.TrimSpace(ev.Evaluate(tpl, ctx)), "true")
}

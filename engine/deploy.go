package engine

import (
	"context"
	"fmt"

	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

// deployment is a definition together with the initialised node of each activity.
type deployment struct {
	def   model.WorkflowDefinition
	nodes map[model.ID]plugin.Node
}

func (d *deployment) node(id model.ID) (plugin.Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

func (d *deployment) close() {
	for _, n := range d.nodes {
		if c, ok := n.(plugin.Closer); ok {
			_ = c.Close()
		}
	}
}

func issue(path, format string, args ...any) model.ValidationIssue {
	return model.ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)}
}

// validate checks the graph shape of def. Node construction is checked
// separately by compile.
func validate(def *model.WorkflowDefinition) []model.ValidationIssue {
	var issues []model.ValidationIssue
	if len(def.Activities) == 0 {
		return append(issues, issue("activities", "at least one activity is required"))
	}

	ids := map[model.ID]bool{}
	starts := 0
	for i, a := range def.Activities {
		path := fmt.Sprintf("activities[%d]", i)
		if a.ID == "" {
			issues = append(issues, issue(path, "id is required"))
			continue
		}
		if ids[a.ID] {
			issues = append(issues, issue(path, "duplicate activity id %q", a.ID))
		}
		ids[a.ID] = true
		if a.NodeType == "" {
			issues = append(issues, issue(path, "activity %q has no node type", a.ID))
		}
		if a.Start {
			starts++
		}
	}
	if starts > 1 && def.StartActivityID == "" {
		issues = append(issues, issue("activities", "%d activities are flagged as start", starts))
	}

	start, ok := def.StartActivity()
	if !ok {
		issues = append(issues, issue("startActivityId", "start activity %q does not exist", def.StartActivityID))
	}

	tids := map[model.ID]bool{}
	for i, t := range def.Transitions {
		path := fmt.Sprintf("transitions[%d]", i)
		if t.ID != "" {
			if tids[t.ID] {
				issues = append(issues, issue(path, "duplicate transition id %q", t.ID))
			}
			tids[t.ID] = true
		}
		if !ids[t.From] {
			issues = append(issues, issue(path, "source activity %q does not exist", t.From))
		}
		if !ids[t.To] {
			issues = append(issues, issue(path, "target activity %q does not exist", t.To))
		}
	}

	out, _ := adjacency(def)
	for i, a := range def.Activities {
		path := fmt.Sprintf("activities[%d]", i)
		switch {
		case a.End && len(out[a.ID]) > 0:
			issues = append(issues, issue(path, "end activity %q has outgoing transitions", a.ID))
		case !a.End && len(out[a.ID]) == 0:
			issues = append(issues, issue(path, "activity %q has no outgoing transition and is not an end activity", a.ID))
		}
	}

	if ok {
		seen := reachable(def, start.ID)
		for i, a := range def.Activities {
			if a.ID != "" && !seen[a.ID] {
				issues = append(issues, issue(fmt.Sprintf("activities[%d]", i), "activity %q is not reachable from %q", a.ID, start.ID))
			}
		}
	}

	vars := map[string]bool{}
	for i, v := range def.Variables {
		path := fmt.Sprintf("variables[%d]", i)
		if v.ID == "" {
			issues = append(issues, issue(path, "id is required"))
		} else if vars[v.ID] {
			issues = append(issues, issue(path, "duplicate variable %q", v.ID))
		}
		vars[v.ID] = true
		if !v.Type.Known() {
			issues = append(issues, issue(path, "unknown variable type %q", v.Type))
		}
	}
	if def.Trigger != nil && !def.Trigger.Type.Known() {
		issues = append(issues, issue("trigger", "unknown trigger type %q", def.Trigger.Type))
	}
	return issues
}

// compile constructs and initialises a node per activity. Failures are
// reported as issues; nodes created before a failure are closed.
func (e *Engine) compile(ctx context.Context, def model.WorkflowDefinition) (*deployment, []model.ValidationIssue) {
	d := &deployment{def: def, nodes: map[model.ID]plugin.Node{}}
	var issues []model.ValidationIssue
	deps := plugin.Deps{Bus: e.bus, Expr: e.expr, Logger: e.logger}
	for i, a := range def.Activities {
		path := fmt.Sprintf("activities[%d]", i)
		if a.NodeType == "" {
			continue
		}
		n, ok := e.registry.New(a.NodeType)
		if !ok {
			issues = append(issues, issue(path, "unknown node type %q", a.NodeType))
			continue
		}
		cfg := plugin.Config(model.CloneMap(a.Config))
		if v, ok := n.(plugin.Validator); ok {
			if err := v.ValidateConfig(cfg); err != nil {
				issues = append(issues, issue(path, "invalid config for %q: %v", a.NodeType, err))
				continue
			}
		}
		if err := n.Init(ctx, deps, cfg); err != nil {
			issues = append(issues, issue(path, "init %q: %v", a.NodeType, err))
			continue
		}
		d.nodes[a.ID] = n
	}
	if len(issues) > 0 {
		d.close()
		return nil, issues
	}
	return d, nil
}

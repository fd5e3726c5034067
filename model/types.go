package model

import "time"

type ID string

// VariableType names the declared type of a workflow variable.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeInteger VariableType = "integer"
	TypeBoolean VariableType = "boolean"
	TypeObject  VariableType = "object"
	TypeList    VariableType = "list"
	TypeAny     VariableType = "any"
)

// Known reports whether t is one of the supported variable types. An empty type means any.
func (t VariableType) Known() bool {
	switch t {
	case "", TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeList, TypeAny:
		return true
	}
	return false
}

type Variable struct {
	ID      string       `json:"id" yaml:"id"`
	Type    VariableType `json:"type,omitempty" yaml:"type,omitempty"`
	Default any          `json:"default,omitempty" yaml:"default,omitempty"`
}

// TriggerType names how instances of a workflow get started.
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerHTTP   TriggerType = "http"
	TriggerQueue  TriggerType = "queue"
	TriggerCron   TriggerType = "cron"
)

func (t TriggerType) Known() bool {
	switch t {
	case TriggerManual, TriggerHTTP, TriggerQueue, TriggerCron:
		return true
	}
	return false
}

type TriggerSpec struct {
	Type   TriggerType    `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Activity is a node in the workflow graph. NodeType is the registry key of
// the plugin node that executes it.
type Activity struct {
	ID       ID                `json:"id" yaml:"id"`
	Name     string            `json:"name,omitempty" yaml:"name,omitempty"`
	NodeType string            `json:"nodeType" yaml:"nodeType"`
	Config   map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Inputs   map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Start    bool              `json:"start,omitempty" yaml:"start,omitempty"`
	End      bool              `json:"end,omitempty" yaml:"end,omitempty"`
	// Split executes list input item by item (or batch by batch).
	Split bool `json:"split,omitempty" yaml:"split,omitempty"`
}

type Transition struct {
	ID        ID     `json:"id,omitempty" yaml:"id,omitempty"`
	From      ID     `json:"from" yaml:"from"`
	To        ID     `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type WorkflowDefinition struct {
	ID               ID           `json:"id,omitempty" yaml:"id,omitempty"`
	SourceWorkflowID ID           `json:"sourceWorkflowId,omitempty" yaml:"sourceWorkflowId,omitempty"`
	Version          int          `json:"version,omitempty" yaml:"version,omitempty"`
	Name             string       `json:"name,omitempty" yaml:"name,omitempty"`
	StartActivityID  ID           `json:"startActivityId,omitempty" yaml:"startActivityId,omitempty"`
	Activities       []Activity   `json:"activities" yaml:"activities"`
	Transitions      []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Variables        []Variable   `json:"variables,omitempty" yaml:"variables,omitempty"`
	Trigger          *TriggerSpec `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	CreatedAt        time.Time    `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Activity looks up an activity by id.
func (d *WorkflowDefinition) Activity(id ID) (*Activity, bool) {
	for i := range d.Activities {
		if d.Activities[i].ID == id {
			return &d.Activities[i], true
		}
	}
	return nil, false
}

// StartActivity returns the designated start activity: the explicit
// StartActivityID, else the first activity flagged Start, else the first activity.
func (d *WorkflowDefinition) StartActivity() (*Activity, bool) {
	if d.StartActivityID != "" {
		return d.Activity(d.StartActivityID)
	}
	for i := range d.Activities {
		if d.Activities[i].Start {
			return &d.Activities[i], true
		}
	}
	if len(d.Activities) == 0 {
		return nil, false
	}
	return &d.Activities[0], true
}

// Outgoing returns the transitions leaving the given activity in declaration order.
func (d *WorkflowDefinition) Outgoing(id ID) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == id {
			out = append(out, t)
		}
	}
	return out
}

func (d *WorkflowDefinition) Variable(name string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.ID == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Clone returns a deep copy of the definition's slices and maps.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	if d.Activities != nil {
		out.Activities = make([]Activity, len(d.Activities))
		for i, a := range d.Activities {
			a.Config = CloneMap(a.Config)
			a.Inputs = cloneStrings(a.Inputs)
			a.Outputs = cloneStrings(a.Outputs)
			out.Activities[i] = a
		}
	}
	if d.Transitions != nil {
		out.Transitions = append([]Transition(nil), d.Transitions...)
	}
	if d.Variables != nil {
		out.Variables = append([]Variable(nil), d.Variables...)
	}
	if d.Trigger != nil {
		t := *d.Trigger
		t.Config = CloneMap(t.Config)
		out.Trigger = &t
	}
	return out
}

// ValidationIssue is a single problem found while deploying a definition.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

type DeploymentResult struct {
	WorkflowID ID                `json:"workflowId"`
	Version    int               `json:"version,omitempty"`
	Issues     []ValidationIssue `json:"issues,omitempty"`
}

func (r DeploymentResult) OK() bool { return len(r.Issues) == 0 }

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

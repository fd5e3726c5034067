package model

import (
	"errors"
	"fmt"
	"time"
)

type InstanceStatus string

const (
	StatusActive    InstanceStatus = "active"
	StatusWaiting   InstanceStatus = "waiting"
	StatusEnded     InstanceStatus = "ended"
	StatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the instance can no longer advance on its own.
func (s InstanceStatus) Terminal() bool { return s == StatusEnded || s == StatusCancelled }

// WorkState is the per-activity-instance execution state.
type WorkState string

const (
	WorkOpen    WorkState = "open"
	WorkWaiting WorkState = "waiting"
	WorkEnded   WorkState = "ended"
	WorkErrored WorkState = "errored"
)

func (s WorkState) Terminal() bool { return s == WorkEnded || s == WorkErrored }

// ErrIllegalTransition is returned by ActivityInstance.Transition.
var ErrIllegalTransition = errors.New("illegal work state transition")

// CanTransition reports whether a work state change is forward-only:
// open -> waiting|ended|errored, waiting -> open|ended|errored.
func (s WorkState) CanTransition(to WorkState) bool {
	switch s {
	case WorkOpen:
		return to == WorkWaiting || to == WorkEnded || to == WorkErrored
	case WorkWaiting:
		return to == WorkOpen || to == WorkEnded || to == WorkErrored
	}
	return false
}

// TriggerInstance is an inbound request to start a workflow. WorkflowID may
// name a concrete deployment or, when SourceWorkflowID is used, the latest
// version of a source workflow is started.
type TriggerInstance struct {
	WorkflowID         ID             `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	SourceWorkflowID   ID             `json:"sourceWorkflowId,omitempty" yaml:"sourceWorkflowId,omitempty"`
	WorkflowInstanceID string         `json:"workflowInstanceId,omitempty" yaml:"workflowInstanceId,omitempty"`
	Data               map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Message resumes a waiting activity instance.
type Message struct {
	WorkflowInstanceID string         `json:"workflowInstanceId,omitempty"`
	ActivityInstanceID string         `json:"activityInstanceId"`
	Data               map[string]any `json:"data,omitempty"`
}

type ActivityInstance struct {
	ID         string         `json:"id" yaml:"id"`
	ActivityID ID             `json:"activityId" yaml:"activityId"`
	NodeType   string         `json:"nodeType,omitempty" yaml:"nodeType,omitempty"`
	WorkState  WorkState      `json:"workState" yaml:"workState"`
	Variables  map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Exception  string         `json:"exception,omitempty" yaml:"exception,omitempty"`
	ErrorType  string         `json:"errorType,omitempty" yaml:"errorType,omitempty"`
	Cancelled  bool           `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	PreviousID string         `json:"previousId,omitempty" yaml:"previousId,omitempty"`
	StartedAt  time.Time      `json:"startedAt" yaml:"startedAt"`
	EndedAt    time.Time      `json:"endedAt,omitempty" yaml:"endedAt,omitempty"`
}

func (a *ActivityInstance) Variable(name string) (any, bool) {
	v, ok := a.Variables[name]
	return v, ok
}

func (a *ActivityInstance) SetVariable(name string, value any) {
	if a.Variables == nil {
		a.Variables = map[string]any{}
	}
	a.Variables[name] = value
}

// Transition moves a to state to, stamping EndedAt when to is terminal. It
// refuses changes CanTransition forbids and leaves a untouched.
func (a *ActivityInstance) Transition(to WorkState, at time.Time) error {
	if !a.WorkState.CanTransition(to) {
		return fmt.Errorf("activity instance %s: %s -> %s: %w", a.ID, a.WorkState, to, ErrIllegalTransition)
	}
	a.WorkState = to
	if to.Terminal() {
		a.EndedAt = at
	}
	return nil
}

func (a ActivityInstance) Clone() ActivityInstance {
	a.Variables = CloneMap(a.Variables)
	return a
}

type WorkflowInstance struct {
	ID                string              `json:"id" yaml:"id"`
	WorkflowID        ID                  `json:"workflowId" yaml:"workflowId"`
	Status            InstanceStatus      `json:"status" yaml:"status"`
	Variables         map[string]any      `json:"variables,omitempty" yaml:"variables,omitempty"`
	ActivityInstances []*ActivityInstance `json:"activityInstances" yaml:"activityInstances"`
	Trigger           TriggerInstance     `json:"trigger" yaml:"trigger"`
	StartedAt         time.Time           `json:"startedAt" yaml:"startedAt"`
	EndedAt           time.Time           `json:"endedAt,omitempty" yaml:"endedAt,omitempty"`
}

// ActivityInstance finds an activity instance by its id.
func (w *WorkflowInstance) ActivityInstance(id string) (*ActivityInstance, bool) {
	for _, ai := range w.ActivityInstances {
		if ai.ID == id {
			return ai, true
		}
	}
	return nil, false
}

// Open returns the activity instances that are not yet terminal.
func (w *WorkflowInstance) Open() []*ActivityInstance {
	var out []*ActivityInstance
	for _, ai := range w.ActivityInstances {
		if !ai.WorkState.Terminal() {
			out = append(out, ai)
		}
	}
	return out
}

// Latest returns the most recently created activity instance for an activity.
func (w *WorkflowInstance) Latest(activityID ID) (*ActivityInstance, bool) {
	for i := len(w.ActivityInstances) - 1; i >= 0; i-- {
		if w.ActivityInstances[i].ActivityID == activityID {
			return w.ActivityInstances[i], true
		}
	}
	return nil, false
}

func (w *WorkflowInstance) SetVariable(name string, value any) {
	if w.Variables == nil {
		w.Variables = map[string]any{}
	}
	w.Variables[name] = value
}

// Scope merges workflow variables with the local variables of ai; locals win.
func (w *WorkflowInstance) Scope(ai *ActivityInstance) map[string]any {
	out := make(map[string]any, len(w.Variables))
	for k, v := range w.Variables {
		out[k] = v
	}
	if ai != nil {
		for k, v := range ai.Variables {
			out[k] = v
		}
	}
	return out
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (w WorkflowInstance) Clone() WorkflowInstance {
	out := w
	out.Variables = CloneMap(w.Variables)
	out.Trigger.Data = CloneMap(w.Trigger.Data)
	out.ActivityInstances = make([]*ActivityInstance, len(w.ActivityInstances))
	for i, ai := range w.ActivityInstances {
		c := ai.Clone()
		out.ActivityInstances[i] = &c
	}
	return out
}

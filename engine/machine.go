package engine

import (
	"time"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/model"
)

// Conventional variable names.
const (
	VarInput         = "input"
	VarOutput        = "output"
	VarError         = "error"
	VarErrorType     = "errorType"
	VarExecutionTime = "executionTime"
	VarNodeType      = "nodeType"
	MetaPrefix       = "meta_"
)

// The functions below mutate an instance in place. Callers hold the
// instance lock and persist the instance afterwards.

// createInstance seeds declared variables from their defaults and from the
// trigger data, then opens the start activity.
func (e *Engine) createInstance(d *deployment, trig model.TriggerInstance) (*model.WorkflowInstance, *model.ActivityInstance, error) {
	start, ok := d.def.StartActivity()
	if !ok {
		return nil, nil, notFound("start activity", string(d.def.StartActivityID))
	}
	id := trig.WorkflowInstanceID
	if id == "" {
		id = e.newID()
	}
	inst := &model.WorkflowInstance{
		ID:         id,
		WorkflowID: d.def.ID,
		Status:     model.StatusActive,
		Trigger:    trig,
		StartedAt:  e.now(),
	}
	inst.Trigger.WorkflowID = d.def.ID
	inst.Trigger.SourceWorkflowID = d.def.SourceWorkflowID
	inst.Trigger.WorkflowInstanceID = id
	inst.Trigger.Data = model.CloneMap(trig.Data)
	for _, v := range d.def.Variables {
		if v.Default != nil {
			inst.SetVariable(v.ID, model.CloneValue(v.Default))
		}
		if val, ok := trig.Data[v.ID]; ok {
			inst.SetVariable(v.ID, model.CloneValue(val))
		}
	}
	ai := e.openActivity(inst, start, nil)
	return inst, ai, nil
}

// openActivity appends a new open activity instance. The previous output,
// when present, becomes the local input variable.
func (e *Engine) openActivity(inst *model.WorkflowInstance, act *model.Activity, prev *model.ActivityInstance) *model.ActivityInstance {
	ai := &model.ActivityInstance{
		ID:         e.newID(),
		ActivityID: act.ID,
		NodeType:   act.NodeType,
		WorkState:  model.WorkOpen,
		StartedAt:  e.now(),
	}
	if prev != nil {
		ai.PreviousID = prev.ID
		if out, ok := prev.Variable(VarOutput); ok {
			ai.SetVariable(VarInput, model.CloneValue(out))
		}
	}
	inst.ActivityInstances = append(inst.ActivityInstances, ai)
	inst.Status = model.StatusActive
	return ai
}

// advance routes out of ai and ends it. A routing failure errors ai instead,
// so the instance stays inspectable. It returns the next activity instance
// to execute, if any.
func (e *Engine) advance(d *deployment, inst *model.WorkflowInstance, ai *model.ActivityInstance) *model.ActivityInstance {
	act, ok := d.def.Activity(ai.ActivityID)
	if !ok {
		e.fail(inst, ai, notFound("activity", string(ai.ActivityID)))
		return nil
	}
	var next *model.Activity
	if !act.End {
		t, err := route(e.expr, &d.def, act, e.scopeContext(inst, ai))
		if err != nil {
			e.fail(inst, ai, err)
			return nil
		}
		next, _ = d.def.Activity(t.To)
	}
	if !e.setState(ai, model.WorkEnded) {
		return nil
	}
	if next == nil {
		if len(inst.Open()) == 0 {
			inst.Status = model.StatusEnded
			inst.EndedAt = e.now()
		}
		return nil
	}
	return e.openActivity(inst, next, ai)
}

// fail records err on ai and stops it in the errored state.
func (e *Engine) fail(inst *model.WorkflowInstance, ai *model.ActivityInstance, err error) {
	ai.Exception = err.Error()
	ai.ErrorType = errorType(err)
	ai.SetVariable(VarError, ai.Exception)
	ai.SetVariable(VarErrorType, ai.ErrorType)
	e.setState(ai, model.WorkErrored)
	refreshStatus(inst)
}

// setState applies a work state change under the model's transition rules.
// A refused change is logged and reported as false.
func (e *Engine) setState(ai *model.ActivityInstance, to model.WorkState) bool {
	if err := ai.Transition(to, e.now()); err != nil {
		e.logger.Error("work state change refused", "activityInstance", ai.ID, "err", err)
		return false
	}
	return true
}

// applyMessage resumes a waiting activity instance with data. Nothing is
// mutated when the activity instance is not waiting.
func (e *Engine) applyMessage(d *deployment, inst *model.WorkflowInstance, aiID string, data map[string]any) (*model.ActivityInstance, error) {
	ai, ok := inst.ActivityInstance(aiID)
	if !ok {
		return nil, notFound("activity instance", aiID)
	}
	if ai.WorkState != model.WorkWaiting {
		return nil, invalidState("activity instance %s is %s, not waiting", aiID, ai.WorkState)
	}
	for k, v := range data {
		ai.SetVariable(k, model.CloneValue(v))
	}
	if _, ok := ai.Variable(VarOutput); !ok {
		ai.SetVariable(VarOutput, model.CloneMap(data))
	}
	next := e.advance(d, inst, ai)
	refreshStatus(inst)
	return next, nil
}

// forceMove ends the given (or the single non-terminal) activity instance
// without running its node and opens toActivity. Ended instances reopen.
func (e *Engine) forceMove(d *deployment, inst *model.WorkflowInstance, fromID string, to model.ID) (*model.ActivityInstance, error) {
	if inst.Status == model.StatusCancelled {
		return nil, invalidState("instance %s is cancelled", inst.ID)
	}
	act, ok := d.def.Activity(to)
	if !ok {
		return nil, notFound("activity", string(to))
	}
	var from *model.ActivityInstance
	if fromID != "" {
		if from, ok = inst.ActivityInstance(fromID); !ok {
			return nil, notFound("activity instance", fromID)
		}
		// At most one activity instance may be non-terminal after the move.
		for _, other := range inst.Open() {
			if other != from {
				return nil, invalidState("activity instance %s is still %s; move from it instead", other.ID, other.WorkState)
			}
		}
	} else {
		open := inst.Open()
		if len(open) > 1 {
			return nil, invalidState("instance %s has %d open activity instances; name the one to move from", inst.ID, len(open))
		}
		if len(open) == 1 {
			from = open[0]
		}
	}
	if from != nil && !from.WorkState.Terminal() {
		e.setState(from, model.WorkEnded)
	}
	inst.EndedAt = time.Time{}
	return e.openActivity(inst, act, from), nil
}

// cancel ends every non-terminal activity instance with the cancellation
// marker. It reports false when the instance had already finished.
func (e *Engine) cancel(inst *model.WorkflowInstance) bool {
	if inst.Status.Terminal() {
		return false
	}
	now := e.now()
	for _, ai := range inst.ActivityInstances {
		if ai.WorkState.Terminal() {
			continue
		}
		if e.setState(ai, model.WorkEnded) {
			ai.Cancelled = true
		}
	}
	inst.Status = model.StatusCancelled
	inst.EndedAt = now
	return true
}

// refreshStatus derives the instance status from its activity instances.
// An instance stuck on an errored activity stays active.
func refreshStatus(inst *model.WorkflowInstance) {
	if inst.Status == model.StatusCancelled {
		return
	}
	var open, waiting int
	for _, ai := range inst.ActivityInstances {
		switch ai.WorkState {
		case model.WorkOpen:
			open++
		case model.WorkWaiting:
			waiting++
		}
	}
	switch {
	case open > 0:
		inst.Status = model.StatusActive
	case waiting > 0:
		inst.Status = model.StatusWaiting
	case inst.Status == model.StatusEnded:
	default:
		inst.Status = model.StatusActive
	}
}

func (e *Engine) scopeContext(inst *model.WorkflowInstance, ai *model.ActivityInstance) expr.Context {
	scope := inst.Scope(ai)
	return expr.Context{Input: scope[VarOutput], Variables: scope, NodeData: nodeData(inst, ai, nil)}
}

// nodeData exposes the previous output, the activity config and the latest
// output of every activity that has produced one.
func nodeData(inst *model.WorkflowInstance, ai *model.ActivityInstance, cfg map[string]any) map[string]any {
	data := map[string]any{}
	for _, other := range inst.ActivityInstances {
		if out, ok := other.Variable(VarOutput); ok {
			data[string(other.ActivityID)] = out
		}
	}
	if ai != nil {
		if in, ok := ai.Variable(VarInput); ok {
			data["previous"] = in
		}
	}
	if cfg != nil {
		data["config"] = cfg
	}
	return data
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

// drive executes activity instances one after another until the chain
// stops opening new ones.
func (e *Engine) drive(instID, aiID string) {
	for aiID != "" {
		next, err := e.execute(e.ctx, instID, aiID)
		if err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrEngineClosed) {
				e.logger.Debug("dispatch stopped", "instance", instID, "activityInstance", aiID, "err", err)
			} else {
				e.logger.Error("dispatch failed", "instance", instID, "activityInstance", aiID, "err", err)
			}
			return
		}
		aiID = next
	}
}

// execute runs the node of one open activity instance and applies its
// result. The node runs without the instance lock held; the result is only
// applied if the activity instance is still open afterwards.
func (e *Engine) execute(ctx context.Context, instID, aiID string) (string, error) {
	unlock := e.locks.lock(instID)
	inst, d, err := e.load(ctx, instID)
	if err != nil {
		unlock()
		return "", err
	}
	ai, ok := inst.ActivityInstance(aiID)
	if !ok {
		unlock()
		return "", notFound("activity instance", aiID)
	}
	if ai.WorkState != model.WorkOpen || inst.Status.Terminal() {
		unlock()
		return "", invalidState("activity instance %s is %s", aiID, ai.WorkState)
	}
	act, _ := d.def.Activity(ai.ActivityID)
	node, ok := d.node(ai.ActivityID)
	if act == nil || !ok {
		e.fail(inst, ai, notFound("node for activity", string(ai.ActivityID)))
		err := e.instances.Save(ctx, *inst)
		evs := outcomeEvents(inst, ai)
		unlock()
		e.emit(ctx, evs...)
		return "", err
	}
	nc := e.nodeContext(inst, ai, act)
	started := instanceEvent("activity_started", inst, ai)
	unlock()

	e.emit(ctx, started)
	kind := node.NodeType()
	res, rejected := e.runNode(ctx, node, act, nc)
	if rejected != nil && e.closed.Load() && errors.Is(rejected, context.Canceled) {
		return "", ErrEngineClosed
	}
	if est := node.Capabilities().Estimate(); res.Duration > est {
		e.logger.Warn("activity ran past its estimate", "instance", instID, "activity", act.ID, "duration", res.Duration, "estimate", est)
		e.emit(ctx, event{name: "activity_slow", fields: map[string]any{
			"instance":         instID,
			"activity":         string(act.ID),
			"activityInstance": aiID,
			"durationMs":       res.Duration.Milliseconds(),
			"estimateMs":       est.Milliseconds(),
		}})
	}

	unlock = e.locks.lock(instID)
	inst, d, err = e.load(ctx, instID)
	if err != nil {
		unlock()
		return "", err
	}
	ai, ok = inst.ActivityInstance(aiID)
	if !ok || ai.WorkState != model.WorkOpen || inst.Status == model.StatusCancelled {
		var ev event
		if ok {
			ev = instanceEvent("completion_rejected", inst, ai)
		} else {
			ev = event{name: "completion_rejected", fields: map[string]any{"instance": instID, "activityInstance": aiID}}
		}
		unlock()
		e.emit(ctx, ev)
		return "", invalidState("completion for activity instance %s arrived after it finished", aiID)
	}
	next := e.applyResult(d, inst, ai, act, kind, res, rejected)
	refreshStatus(inst)
	if err := e.instances.Save(ctx, *inst); err != nil {
		unlock()
		return "", fmt.Errorf("engine: save instance %s: %w", instID, err)
	}
	evs := outcomeEvents(inst, ai)
	unlock()

	e.emit(ctx, evs...)
	if ai.WorkState == model.WorkErrored {
		e.logger.Warn("activity failed", "instance", instID, "activity", ai.ActivityID, "errorType", ai.ErrorType, "err", ai.Exception)
	}
	if next == nil {
		return "", nil
	}
	return next.ID, nil
}

// nodeContext builds the input for one execution. Input comes from the
// activity's input bindings, else the instance's trigger data, else the
// input variable. Bindings that resolve to nothing are dropped; when none
// remain the next source is used.
func (e *Engine) nodeContext(inst *model.WorkflowInstance, ai *model.ActivityInstance, act *model.Activity) *plugin.NodeContext {
	scope := model.CloneMap(inst.Scope(ai))
	cfg := model.CloneMap(act.Config)
	nd := model.CloneMap(nodeData(inst, ai, cfg))
	previous := asInput(scope[VarInput])

	input := e.bindInputs(act, expr.Context{Input: previous, Variables: scope, NodeData: nd})
	if len(input) == 0 && len(inst.Trigger.Data) > 0 {
		input = model.CloneMap(inst.Trigger.Data)
	}
	if len(input) == 0 {
		input = previous
	}
	return &plugin.NodeContext{
		WorkflowInstanceID: inst.ID,
		ActivityInstanceID: ai.ID,
		ActivityID:         string(act.ID),
		Input:              input,
		Variables:          scope,
		NodeData:           nd,
		Config:             plugin.Config(cfg),
	}
}

// bindInputs resolves the declared input bindings, skipping empty results.
func (e *Engine) bindInputs(act *model.Activity, ctx expr.Context) map[string]any {
	if len(act.Inputs) == 0 {
		return nil
	}
	out := make(map[string]any, len(act.Inputs))
	for name, tpl := range act.Inputs {
		v := e.expr.Resolve(tpl, ctx)
		if v == nil || v == "" {
			continue
		}
		out[name] = v
	}
	return out
}

func asInput(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return model.CloneMap(t)
	default:
		return map[string]any{VarInput: model.CloneValue(t)}
	}
}

// runNode executes node once, or once per chunk for split activities with
// list input. A rejected task is returned as the error.
func (e *Engine) runNode(ctx context.Context, node plugin.Node, act *model.Activity, nc *plugin.NodeContext) (plugin.NodeResult, error) {
	items, ok := splitItems(nc.Input)
	if !act.Split || !ok {
		return e.runOnce(ctx, node, nc)
	}

	size := 1
	if caps := node.Capabilities(); caps.Supports(plugin.DataBatch) {
		size = caps.BatchSize()
	}
	var (
		data    []any
		meta    = map[string]any{}
		total   time.Duration
		batches int
	)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		cnc := *nc
		cnc.Items = chunk
		cnc.Input = model.CloneMap(nc.Input)
		if size == 1 {
			cnc.Input[VarInput] = chunk[0]
			if m, ok := chunk[0].(map[string]any); ok {
				for k, v := range m {
					cnc.Input[k] = v
				}
			}
		} else {
			cnc.Input["items"] = chunk
		}

		res, err := e.runOnce(ctx, node, &cnc)
		total += res.Duration
		batches++
		if err != nil {
			return res, err
		}
		if !res.Success || res.Err != nil {
			res.Duration = total
			return res, nil
		}
		if list, ok := res.Data.([]any); ok && size > 1 {
			data = append(data, list...)
		} else {
			data = append(data, res.Data)
		}
		for k, v := range res.Metadata {
			meta[k] = v
		}
	}
	meta["batches"] = batches
	if data == nil {
		data = []any{}
	}
	return plugin.NodeResult{Success: true, Data: data, Metadata: meta, Duration: total}, nil
}

func splitItems(input map[string]any) ([]any, bool) {
	if list, ok := input["items"].([]any); ok {
		return list, true
	}
	if list, ok := input[VarInput].([]any); ok {
		return list, true
	}
	return nil, false
}

func (e *Engine) runOnce(ctx context.Context, node plugin.Node, nc *plugin.NodeContext) (plugin.NodeResult, error) {
	start := time.Now()
	task := safeExecute(ctx, node, nc)
	res, err := task.Wait(ctx)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, err
}

func safeExecute(ctx context.Context, node plugin.Node, nc *plugin.NodeContext) (task *plugin.Task) {
	defer func() {
		if r := recover(); r != nil {
			task = plugin.Failed(&plugin.NodeError{Type: "Panic", Message: fmt.Sprint(r)})
		}
	}()
	task = node.Execute(ctx, nc)
	if task == nil {
		task = plugin.Failed(&plugin.NodeError{Type: "NoResult", Message: "node returned no task"})
	}
	return task
}

// applyResult settles ai from a node outcome. Trigger kinds that succeed
// without data keep waiting for a message; failures stop ai in the errored
// state. It returns the next activity instance to execute, if any.
func (e *Engine) applyResult(d *deployment, inst *model.WorkflowInstance, ai *model.ActivityInstance, act *model.Activity, kind plugin.NodeKind, res plugin.NodeResult, rejected error) *model.ActivityInstance {
	if err := resultError(res, rejected); err != nil {
		e.fail(inst, ai, err)
		return nil
	}
	if kind.Waits() && res.Data == nil {
		e.setState(ai, model.WorkWaiting)
		return nil
	}
	e.bindOutput(inst, ai, act, kind, res)
	return e.advance(d, inst, ai)
}

func resultError(res plugin.NodeResult, rejected error) error {
	switch {
	case rejected != nil:
		return rejected
	case res.Err != nil:
		return res.Err
	case !res.Success:
		return &plugin.NodeError{Type: "ExecutionError", Message: "node reported failure"}
	}
	return nil
}

// bindOutput stores the payload as output, flattens mapping payloads into
// individual variables and records metadata, duration and node kind.
// Declared activity outputs are copied into workflow scope.
func (e *Engine) bindOutput(inst *model.WorkflowInstance, ai *model.ActivityInstance, act *model.Activity, kind plugin.NodeKind, res plugin.NodeResult) {
	if m, ok := res.Data.(map[string]any); ok {
		for k, v := range m {
			ai.SetVariable(k, v)
		}
	}
	ai.SetVariable(VarOutput, res.Data)
	for k, v := range res.Metadata {
		ai.SetVariable(MetaPrefix+k, v)
	}
	ai.SetVariable(VarExecutionTime, res.Duration.Milliseconds())
	ai.SetVariable(VarNodeType, string(kind))

	if len(act.Outputs) == 0 {
		return
	}
	ctx := expr.Context{Input: res.Data, Variables: inst.Scope(ai), NodeData: nodeData(inst, ai, act.Config)}
	for name, tpl := range act.Outputs {
		inst.SetVariable(name, e.expr.Resolve(tpl, ctx))
	}
}

// Package engine runs workflow instances: it deploys definitions, starts
// instances from triggers, resumes waiting activities from messages and
// exposes administrative move, cancel and variable access.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

type Engine struct {
	registry  *plugin.Registry
	instances InstanceStore
	defs      DefinitionStore
	expr      *expr.Engine
	bus       plugin.EventBus
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	locks *locks

	mu          sync.RWMutex
	deployments map[model.ID]*deployment

	closed atomic.Bool
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Engine)

// WithClock overrides the clock used for instance timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithIDGenerator overrides how instance and activity instance ids are made.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBus sets where lifecycle events are emitted.
func WithBus(bus plugin.EventBus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// WithExpressions shares an expression engine (and its cache) with the engine.
func WithExpressions(ev *expr.Engine) Option {
	return func(e *Engine) {
		if ev != nil {
			e.expr = ev
		}
	}
}

// New builds an engine over the given stores. A nil registry means the
// process-wide plugin registry.
func New(registry *plugin.Registry, instances InstanceStore, defs DefinitionStore, opts ...Option) (*Engine, error) {
	if instances == nil {
		return nil, fmt.Errorf("engine: instance store is required")
	}
	if defs == nil {
		return nil, fmt.Errorf("engine: definition store is required")
	}
	if registry == nil {
		registry = plugin.Default()
	}
	e := &Engine{
		registry:    registry,
		instances:   instances,
		defs:        defs,
		bus:         nopBus{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       newLocks(),
		deployments: map[model.ID]*deployment{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.expr == nil {
		e.expr = expr.New(expr.WithLogger(e.logger))
	}
	e.ctx, e.stop = context.WithCancel(context.Background())
	return e, nil
}

// Expressions returns the engine's expression engine.
func (e *Engine) Expressions() *expr.Engine { return e.expr }

// Deploy validates def and registers it under a new version. Validation
// problems are reported in the result; the error is reserved for store
// failures.
func (e *Engine) Deploy(ctx context.Context, def model.WorkflowDefinition) (model.DeploymentResult, error) {
	if e.closed.Load() {
		return model.DeploymentResult{}, ErrEngineClosed
	}
	def = def.Clone()
	if def.ID == "" {
		def.ID = model.ID(e.newID())
	}
	if def.SourceWorkflowID == "" {
		def.SourceWorkflowID = def.ID
	}
	result := model.DeploymentResult{WorkflowID: def.ID}

	if _, exists, err := e.defs.Get(ctx, def.ID); err != nil {
		return result, fmt.Errorf("engine: lookup workflow %s: %w", def.ID, err)
	} else if exists {
		result.Issues = append(result.Issues, issue("id", "workflow %q is already deployed", def.ID))
	}
	result.Issues = append(result.Issues, validate(&def)...)
	if len(result.Issues) > 0 {
		return result, nil
	}
	d, issues := e.compile(ctx, def)
	if len(issues) > 0 {
		result.Issues = issues
		return result, nil
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = e.now()
	}
	stored, err := e.defs.Put(ctx, def)
	if err != nil {
		d.close()
		return result, fmt.Errorf("engine: store workflow %s: %w", def.ID, err)
	}
	d.def = stored
	e.mu.Lock()
	e.deployments[stored.ID] = d
	e.mu.Unlock()
	result.Version = stored.Version
	e.logger.Info("workflow deployed", "workflow", stored.ID, "source", stored.SourceWorkflowID, "version", stored.Version)
	e.emit(ctx, event{name: "workflow_deployed", fields: map[string]any{
		"workflow": string(stored.ID), "source": string(stored.SourceWorkflowID), "version": stored.Version,
	}})
	return result, nil
}

// Start creates an instance and dispatches its start activity in the
// background. The returned snapshot reflects the instance before the start
// activity completes.
func (e *Engine) Start(ctx context.Context, trig model.TriggerInstance) (model.WorkflowInstance, error) {
	if e.closed.Load() {
		return model.WorkflowInstance{}, ErrEngineClosed
	}
	d, err := e.resolve(ctx, trig)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	inst, ai, err := e.createInstance(d, trig)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	unlock := e.locks.lock(inst.ID)
	if _, exists, err := e.instances.Load(ctx, inst.ID); err != nil {
		unlock()
		return model.WorkflowInstance{}, err
	} else if exists {
		unlock()
		return model.WorkflowInstance{}, invalidState("instance %s already exists", inst.ID)
	}
	if err := e.instances.Save(ctx, *inst); err != nil {
		unlock()
		return model.WorkflowInstance{}, fmt.Errorf("engine: save instance %s: %w", inst.ID, err)
	}
	snap := inst.Clone()
	unlock()

	e.logger.Info("instance started", "instance", inst.ID, "workflow", inst.WorkflowID)
	e.emit(ctx, instanceEvent("instance_started", inst, nil))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drive(inst.ID, ai.ID)
	}()
	return snap, nil
}

// Send resumes a waiting activity instance and runs the instance until it
// waits, ends or gets stuck.
func (e *Engine) Send(ctx context.Context, msg model.Message) (model.WorkflowInstance, error) {
	if e.closed.Load() {
		return model.WorkflowInstance{}, ErrEngineClosed
	}
	instID, err := e.ownerOf(ctx, msg)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	unlock := e.locks.lock(instID)
	inst, d, err := e.load(ctx, instID)
	if err != nil {
		unlock()
		return model.WorkflowInstance{}, err
	}
	next, err := e.applyMessage(d, inst, msg.ActivityInstanceID, msg.Data)
	if err != nil {
		unlock()
		return model.WorkflowInstance{}, err
	}
	if err := e.instances.Save(ctx, *inst); err != nil {
		unlock()
		return model.WorkflowInstance{}, fmt.Errorf("engine: save instance %s: %w", instID, err)
	}
	ai, _ := inst.ActivityInstance(msg.ActivityInstanceID)
	evs := append([]event{instanceEvent("message_received", inst, ai)}, outcomeEvents(inst, ai)...)
	unlock()
	e.emit(ctx, evs...)

	if next != nil {
		e.drive(instID, next.ID)
	}
	return e.Instance(ctx, instID)
}

// Move ends the current activity instance without running its node and
// continues from activity to. fromID may be empty when exactly one activity
// instance is open or waiting.
func (e *Engine) Move(ctx context.Context, instID, fromID string, to model.ID) (model.WorkflowInstance, error) {
	if e.closed.Load() {
		return model.WorkflowInstance{}, ErrEngineClosed
	}
	unlock := e.locks.lock(instID)
	inst, d, err := e.load(ctx, instID)
	if err != nil {
		unlock()
		return model.WorkflowInstance{}, err
	}
	ai, err := e.forceMove(d, inst, fromID, to)
	if err != nil {
		unlock()
		return model.WorkflowInstance{}, err
	}
	if err := e.instances.Save(ctx, *inst); err != nil {
		unlock()
		return model.WorkflowInstance{}, fmt.Errorf("engine: save instance %s: %w", instID, err)
	}
	ev := instanceEvent("instance_moved", inst, ai)
	ev.fields["from"] = ai.PreviousID
	unlock()
	e.logger.Info("instance moved", "instance", instID, "from", ai.PreviousID, "to", to)
	e.emit(ctx, ev)

	e.drive(instID, ai.ID)
	return e.Instance(ctx, instID)
}

// Cancel retires every open or waiting activity instance. Cancelling a
// finished instance is a no-op.
func (e *Engine) Cancel(ctx context.Context, instID string) (model.WorkflowInstance, error) {
	unlock := e.locks.lock(instID)
	defer unlock()
	inst, err := e.loadInstance(ctx, instID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if !e.cancel(inst) {
		return inst.Clone(), nil
	}
	if err := e.instances.Save(ctx, *inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("engine: save instance %s: %w", instID, err)
	}
	e.logger.Info("instance cancelled", "instance", instID)
	e.emit(ctx, instanceEvent("instance_cancelled", inst, nil))
	return inst.Clone(), nil
}

// GetVariable reads a workflow variable, or an activity instance variable
// (falling back to workflow scope) when aiID is set.
func (e *Engine) GetVariable(ctx context.Context, instID, aiID, name string) (any, bool, error) {
	vars, err := e.Variables(ctx, instID, aiID)
	if err != nil {
		return nil, false, err
	}
	v, ok := vars[name]
	return v, ok, nil
}

// SetVariable writes a workflow variable, or a local variable of aiID.
func (e *Engine) SetVariable(ctx context.Context, instID, aiID, name string, value any) error {
	if name == "" {
		return fmt.Errorf("engine: variable name is required")
	}
	unlock := e.locks.lock(instID)
	defer unlock()
	inst, err := e.loadInstance(ctx, instID)
	if err != nil {
		return err
	}
	if aiID == "" {
		inst.SetVariable(name, model.CloneValue(value))
	} else {
		ai, ok := inst.ActivityInstance(aiID)
		if !ok {
			return notFound("activity instance", aiID)
		}
		ai.SetVariable(name, model.CloneValue(value))
	}
	if err := e.instances.Save(ctx, *inst); err != nil {
		return fmt.Errorf("engine: save instance %s: %w", instID, err)
	}
	return nil
}

// Variables returns the visible variables: workflow scope, merged with the
// locals of aiID when it is set.
func (e *Engine) Variables(ctx context.Context, instID, aiID string) (map[string]any, error) {
	unlock := e.locks.lock(instID)
	defer unlock()
	inst, err := e.loadInstance(ctx, instID)
	if err != nil {
		return nil, err
	}
	if aiID == "" {
		return model.CloneMap(inst.Variables), nil
	}
	ai, ok := inst.ActivityInstance(aiID)
	if !ok {
		return nil, notFound("activity instance", aiID)
	}
	return model.CloneMap(inst.Scope(ai)), nil
}

func (e *Engine) Instance(ctx context.Context, instID string) (model.WorkflowInstance, error) {
	inst, err := e.loadInstance(ctx, instID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	return *inst, nil
}

func (e *Engine) Instances(ctx context.Context) ([]model.WorkflowInstance, error) {
	return e.instances.List(ctx)
}

func (e *Engine) Definition(ctx context.Context, id model.ID) (model.WorkflowDefinition, error) {
	def, ok, err := e.defs.Get(ctx, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	if !ok {
		return model.WorkflowDefinition{}, notFound("workflow", string(id))
	}
	return def, nil
}

func (e *Engine) Definitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	return e.defs.List(ctx)
}

// NodeInfo describes one deployable node type.
type NodeInfo struct {
	Type         string              `json:"type"`
	Kind         plugin.NodeKind     `json:"kind"`
	Descriptor   plugin.Descriptor   `json:"descriptor"`
	Capabilities plugin.Capabilities `json:"capabilities"`
}

// NodeDescriptors describes every registered node type, sorted by type.
// Nodes are constructed but not initialised.
func (e *Engine) NodeDescriptors() []NodeInfo {
	types := e.registry.Types()
	out := make([]NodeInfo, 0, len(types))
	for _, nt := range types {
		node, ok := e.registry.New(nt)
		if !ok {
			continue
		}
		out = append(out, NodeInfo{
			Type:         nt,
			Kind:         node.NodeType(),
			Descriptor:   node.Descriptor(),
			Capabilities: node.Capabilities(),
		})
	}
	return out
}

// Wait blocks until background dispatch started by Start has settled.
func (e *Engine) Wait() { e.wg.Wait() }

// Close stops accepting work, waits for in-flight dispatch until ctx is
// done and releases node resources.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("engine: close: %w", ctx.Err())
	}
	e.stop()
	e.mu.Lock()
	for _, d := range e.deployments {
		d.close()
	}
	e.deployments = map[model.ID]*deployment{}
	e.mu.Unlock()
	return err
}

func (e *Engine) resolve(ctx context.Context, trig model.TriggerInstance) (*deployment, error) {
	if trig.SourceWorkflowID != "" {
		def, ok, err := e.defs.Latest(ctx, trig.SourceWorkflowID)
		if err != nil {
			return nil, err
		}
		if ok {
			return e.deploymentFor(ctx, def.ID)
		}
		if trig.WorkflowID == "" {
			return nil, notFound("workflow", string(trig.SourceWorkflowID))
		}
	}
	if trig.WorkflowID == "" {
		return nil, fmt.Errorf("engine: trigger names no workflow: %w", ErrNotFound)
	}
	if _, ok, err := e.defs.Get(ctx, trig.WorkflowID); err != nil {
		return nil, err
	} else if ok {
		return e.deploymentFor(ctx, trig.WorkflowID)
	}
	// A workflow id that names a source resolves to its latest version.
	def, ok, err := e.defs.Latest(ctx, trig.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("workflow", string(trig.WorkflowID))
	}
	return e.deploymentFor(ctx, def.ID)
}

// deploymentFor returns the compiled deployment of a stored definition,
// compiling it on first use after a restart.
func (e *Engine) deploymentFor(ctx context.Context, id model.ID) (*deployment, error) {
	e.mu.RLock()
	d, ok := e.deployments[id]
	e.mu.RUnlock()
	if ok {
		return d, nil
	}
	def, ok, err := e.defs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("workflow", string(id))
	}
	d, issues := e.compile(ctx, def)
	if len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.String()
		}
		return nil, fmt.Errorf("engine: workflow %s does not compile: %s", id, strings.Join(msgs, "; "))
	}
	e.mu.Lock()
	if existing, ok := e.deployments[id]; ok {
		e.mu.Unlock()
		d.close()
		return existing, nil
	}
	e.deployments[id] = d
	e.mu.Unlock()
	return d, nil
}

func (e *Engine) loadInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	inst, ok, err := e.instances.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine: load instance %s: %w", id, err)
	}
	if !ok {
		return nil, notFound("instance", id)
	}
	return &inst, nil
}

func (e *Engine) load(ctx context.Context, id string) (*model.WorkflowInstance, *deployment, error) {
	inst, err := e.loadInstance(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	d, err := e.deploymentFor(ctx, inst.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	return inst, d, nil
}

func (e *Engine) ownerOf(ctx context.Context, msg model.Message) (string, error) {
	if msg.ActivityInstanceID == "" {
		return "", fmt.Errorf("engine: message names no activity instance: %w", ErrNotFound)
	}
	if msg.WorkflowInstanceID != "" {
		return msg.WorkflowInstanceID, nil
	}
	id, ok, err := e.instances.FindByActivityInstance(ctx, msg.ActivityInstanceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", notFound("activity instance", msg.ActivityInstanceID)
	}
	return id, nil
}

type event struct {
	name   string
	fields map[string]any
}

func instanceEvent(name string, inst *model.WorkflowInstance, ai *model.ActivityInstance) event {
	f := map[string]any{
		"instance": inst.ID,
		"workflow": string(inst.WorkflowID),
		"status":   string(inst.Status),
	}
	if ai != nil {
		f["activity"] = string(ai.ActivityID)
		f["activityInstance"] = ai.ID
		f["workState"] = string(ai.WorkState)
		if ai.WorkState == model.WorkErrored {
			f["error"] = ai.Exception
			f["errorType"] = ai.ErrorType
		}
	}
	return event{name: name, fields: f}
}

// outcomeEvents describes what happened to ai and its instance after a
// result or message was applied.
func outcomeEvents(inst *model.WorkflowInstance, ai *model.ActivityInstance) []event {
	var evs []event
	if ai != nil {
		switch ai.WorkState {
		case model.WorkWaiting:
			evs = append(evs, instanceEvent("activity_waiting", inst, ai))
		case model.WorkErrored:
			evs = append(evs, instanceEvent("activity_failed", inst, ai))
		case model.WorkEnded:
			evs = append(evs, instanceEvent("activity_completed", inst, ai))
		}
	}
	if inst.Status == model.StatusEnded {
		evs = append(evs, instanceEvent("instance_ended", inst, nil))
	}
	return evs
}

func (e *Engine) emit(ctx context.Context, evs ...event) {
	for _, ev := range evs {
		if err := e.bus.Emit(ctx, ev.name, ev.fields); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("emit event", "event", ev.name, "err", err)
		}
	}
}

type nopBus struct{}

func (nopBus) Emit(context.Context, string, map[string]any) error { return nil }

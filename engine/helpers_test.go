package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/Tsinling0525/weir/infra"
	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

var (
	_ InstanceStore   = (*infra.MemStore)(nil)
	_ InstanceStore   = (*infra.FileStore)(nil)
	_ DefinitionStore = (*infra.DefinitionStore)(nil)
)

type funcNode struct {
	kind plugin.NodeKind
	caps plugin.Capabilities
	fn   func(ctx context.Context, nc *plugin.NodeContext) *plugin.Task
	cfg  plugin.Config
}

func (n *funcNode) Init(_ context.Context, _ plugin.Deps, cfg plugin.Config) error {
	n.cfg = cfg
	return nil
}

func (n *funcNode) Execute(ctx context.Context, nc *plugin.NodeContext) *plugin.Task {
	return n.fn(ctx, nc)
}

func (n *funcNode) NodeType() plugin.NodeKind         { return n.kind }
func (n *funcNode) Descriptor() plugin.Descriptor     { return plugin.Descriptor{Name: "func"} }
func (n *funcNode) Capabilities() plugin.Capabilities { return n.caps }

func register(t *testing.T, r *plugin.Registry, name string, kind plugin.NodeKind, fn func(ctx context.Context, nc *plugin.NodeContext) *plugin.Task) {
	t.Helper()
	if err := r.Register(name, func() plugin.Node { return &funcNode{kind: kind, fn: fn} }); err != nil {
		t.Fatal(err)
	}
}

// passTrigger completes with its input, or with no data when the input is empty.
func passTrigger(_ context.Context, nc *plugin.NodeContext) *plugin.Task {
	if len(nc.Input) == 0 {
		return plugin.Completed(plugin.Success(nil, nil))
	}
	return plugin.Completed(plugin.Success(nc.Input, nil))
}

func echoAction(_ context.Context, nc *plugin.NodeContext) *plugin.Task {
	return plugin.Completed(plugin.Success(nc.Input, nil))
}

func returns(data any) func(context.Context, *plugin.NodeContext) *plugin.Task {
	return func(context.Context, *plugin.NodeContext) *plugin.Task {
		return plugin.Completed(plugin.Success(data, map[string]any{"source": "test"}))
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Emit(_ context.Context, event string, _ map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	eng      *Engine
	registry *plugin.Registry
	bus      *recordingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := plugin.NewRegistry()
	register(t, r, "trigger", plugin.KindTrigger, passTrigger)
	register(t, r, "echo", plugin.KindAction, echoAction)
	bus := &recordingBus{}
	eng, err := New(r, infra.NewMemStore(), infra.NewDefinitionStore(), WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return &fixture{eng: eng, registry: r, bus: bus}
}

func (f *fixture) deploy(t *testing.T, def model.WorkflowDefinition) model.DeploymentResult {
	t.Helper()
	res, err := f.eng.Deploy(context.Background(), def)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.OK() {
		t.Fatalf("deploy issues: %v", res.Issues)
	}
	return res
}

// run starts an instance and waits for background dispatch to settle.
func (f *fixture) run(t *testing.T, workflowID model.ID, data map[string]any) model.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	snap, err := f.eng.Start(ctx, model.TriggerInstance{WorkflowID: workflowID, Data: data})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.eng.Wait()
	inst, err := f.eng.Instance(ctx, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

// chain builds a linear definition over the given node types; the last
// activity is the end activity.
func chain(id model.ID, nodeTypes ...string) model.WorkflowDefinition {
	def := model.WorkflowDefinition{ID: id}
	names := []model.ID{"A", "B", "C", "D", "E"}
	for i, nt := range nodeTypes {
		def.Activities = append(def.Activities, model.Activity{
			ID:       names[i],
			NodeType: nt,
			End:      i == len(nodeTypes)-1,
		})
		if i > 0 {
			def.Transitions = append(def.Transitions, model.Transition{From: names[i-1], To: names[i]})
		}
	}
	return def
}

func activity(t *testing.T, inst model.WorkflowInstance, id model.ID) *model.ActivityInstance {
	t.Helper()
	ai, ok := inst.Latest(id)
	if !ok {
		t.Fatalf("no activity instance for %s in %+v", id, inst.ActivityInstances)
	}
	return ai
}

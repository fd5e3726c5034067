package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

func branching(toB, toC string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID: "branch",
		Activities: []model.Activity{
			{ID: "A", NodeType: "decide"},
			{ID: "B", NodeType: "echo", End: true},
			{ID: "C", NodeType: "echo", End: true},
		},
		Transitions: []model.Transition{
			{ID: "t1", From: "A", To: "B", Condition: toB},
			{ID: "t2", From: "A", To: "C", Condition: toC},
		},
	}
}

func TestRouting(t *testing.T) {
	tests := []struct {
		name      string
		toB, toC  string
		approved  bool
		want      model.ID
		errorType string
	}{
		{name: "condition holds", toB: "{{approved}}", approved: true, want: "B"},
		{name: "default taken", toB: "{{approved}}", approved: false, want: "C"},
		{name: "bare condition", toB: "$json.approved", approved: true, want: "B"},
		{name: "both hold", toB: "{{approved}}", toC: "{{$json.approved}}", approved: true, errorType: "AmbiguousBranch"},
		{name: "two defaults", approved: true, errorType: "AmbiguousBranch"},
		{name: "nothing holds", toB: "{{approved}}", toC: "{{rejected}}", approved: false, errorType: "DeadEnd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			register(t, f.registry, "decide", plugin.KindAction, returns(map[string]any{"approved": tt.approved}))
			f.deploy(t, branching(tt.toB, tt.toC))
			inst := f.run(t, "branch", nil)
			a := activity(t, inst, "A")

			if tt.errorType != "" {
				if a.WorkState != model.WorkErrored || a.ErrorType != tt.errorType {
					t.Fatalf("expected %s, got %s %q", tt.errorType, a.WorkState, a.ErrorType)
				}
				if len(inst.ActivityInstances) != 1 || inst.Status != model.StatusActive {
					t.Fatalf("failed routing must not advance: %+v", inst)
				}
				return
			}
			if a.WorkState != model.WorkEnded {
				t.Fatalf("A not ended: %s", a.WorkState)
			}
			if len(inst.ActivityInstances) != 2 || inst.ActivityInstances[1].ActivityID != tt.want {
				t.Fatalf("expected route to %s, got %+v", tt.want, inst.ActivityInstances)
			}
			if inst.Status != model.StatusEnded {
				t.Fatalf("expected ended, got %s", inst.Status)
			}
		})
	}
}

func TestDeployRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.WorkflowDefinition)
		want   string
	}{
		{"no activities", func(d *model.WorkflowDefinition) { d.Activities = nil }, "at least one activity"},
		{"unknown node type", func(d *model.WorkflowDefinition) { d.Activities[1].NodeType = "nope" }, `unknown node type "nope"`},
		{"missing node type", func(d *model.WorkflowDefinition) { d.Activities[1].NodeType = "" }, "has no node type"},
		{"duplicate activity", func(d *model.WorkflowDefinition) { d.Activities[1].ID = "A" }, "duplicate activity"},
		{"dangling transition", func(d *model.WorkflowDefinition) { d.Transitions[0].To = "Z" }, `target activity "Z" does not exist`},
		{"missing start", func(d *model.WorkflowDefinition) { d.StartActivityID = "Z" }, "start activity"},
		{"end with outgoing", func(d *model.WorkflowDefinition) {
			d.Transitions = append(d.Transitions, model.Transition{From: "B", To: "A"})
		}, "end activity"},
		{"unreachable", func(d *model.WorkflowDefinition) {
			d.Activities = append(d.Activities, model.Activity{ID: "X", NodeType: "echo", End: true})
		}, "not reachable"},
		{"stuck activity", func(d *model.WorkflowDefinition) {
			d.Activities = append(d.Activities, model.Activity{ID: "X", NodeType: "echo"})
			d.Transitions = append(d.Transitions, model.Transition{From: "A", To: "X", Condition: "{{go}}"})
		}, "no outgoing transition"},
		{"unknown variable type", func(d *model.WorkflowDefinition) {
			d.Variables = []model.Variable{{ID: "v", Type: "matrix"}}
		}, "unknown variable type"},
		{"duplicate variable", func(d *model.WorkflowDefinition) {
			d.Variables = []model.Variable{{ID: "v", Type: model.TypeString}, {ID: "v", Type: model.TypeString}}
		}, "duplicate variable"},
		{"unknown trigger", func(d *model.WorkflowDefinition) {
			d.Trigger = &model.TriggerSpec{Type: "carrier-pigeon"}
		}, "unknown trigger type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			def := chain("wf1", "echo", "echo")
			tt.mutate(&def)
			res, err := f.eng.Deploy(context.Background(), def)
			if err != nil {
				t.Fatal(err)
			}
			if res.OK() {
				t.Fatalf("expected issues")
			}
			found := false
			for _, is := range res.Issues {
				if strings.Contains(is.Message, tt.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no issue containing %q in %v", tt.want, res.Issues)
			}
			if _, err := f.eng.Definition(context.Background(), "wf1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("invalid definition was stored: %v", err)
			}
		})
	}
}

func TestDeployRejectsDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, chain("wf1", "echo"))
	res, err := f.eng.Deploy(context.Background(), chain("wf1", "echo"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatalf("expected duplicate id to be reported")
	}
}

type strictNode struct{ funcNode }

func (n *strictNode) ValidateConfig(cfg plugin.Config) error {
	if cfg.String("url") == "" {
		return errors.New("url is required")
	}
	return nil
}

func TestDeployRunsConfigValidation(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.Register("strict", func() plugin.Node {
		return &strictNode{funcNode{kind: plugin.KindAction, fn: echoAction}}
	}); err != nil {
		t.Fatal(err)
	}
	res, err := f.eng.Deploy(context.Background(), chain("wf1", "strict"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || !strings.Contains(res.Issues[0].Message, "url is required") {
		t.Fatalf("expected config issue, got %v", res.Issues)
	}

	def := chain("wf2", "strict")
	def.Activities[0].Config = map[string]any{"url": "http://example.invalid"}
	f.deploy(t, def)
}

type namedErr struct{}

func (namedErr) Error() string { return "named" }

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&plugin.NodeError{Type: "HttpError"}, "HttpError"},
		{fmt.Errorf("wrapped: %w", &plugin.NodeError{Type: "Panic"}), "Panic"},
		{context.DeadlineExceeded, "Timeout"},
		{context.Canceled, "Canceled"},
		{fmt.Errorf("x: %w", ErrDeadEnd), "DeadEnd"},
		{fmt.Errorf("x: %w", ErrAmbiguousBranch), "AmbiguousBranch"},
		{namedErr{}, "namedErr"},
		{&namedErr{}, "namedErr"},
	}
	for _, tt := range tests {
		if got := errorType(tt.err); got != tt.want {
			t.Errorf("errorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLocksReleaseEntries(t *testing.T) {
	l := newLocks()
	unlockA := l.lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.lock("a")
		unlock()
		close(done)
	}()
	unlockB := l.lock("b")
	unlockB()
	unlockA()
	<-done
	if n := l.size(); n != 0 {
		t.Fatalf("expected empty lock table, got %d", n)
	}
}

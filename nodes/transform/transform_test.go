package transform

import (
	"context"
	"reflect"
	"testing"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/plugin"
)

func newTransform(t *testing.T, cfg plugin.Config) *Transform {
	t.Helper()
	tr := &Transform{}
	if err := tr.ValidateConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if err := tr.Init(context.Background(), plugin.Deps{Expr: expr.New()}, cfg); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestTransformSingle(t *testing.T) {
	tr := newTransform(t, plugin.Config{
		"fields": map[string]any{"id": "{{orderId}}", "label": "order-{{orderId}}", "region": "{{region}}"},
	})
	nc := &plugin.NodeContext{Input: map[string]any{"orderId": "X"}, Variables: map[string]any{"region": "eu"}}
	res, err := tr.Execute(context.Background(), nc).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"id": "X", "label": "order-X", "region": "eu"}
	if !reflect.DeepEqual(res.Data, want) {
		t.Fatalf("got %v, want %v", res.Data, want)
	}
}

func TestTransformBatchKeepsInput(t *testing.T) {
	tr := newTransform(t, plugin.Config{
		"fields":         map[string]any{"copy": "{{n}}", "tag": "n={{$json.n}}"},
		"keep":           true,
		"max_batch_size": 2,
	})
	if got := tr.Capabilities().BatchSize(); got != 2 {
		t.Fatalf("expected batch size 2, got %d", got)
	}
	nc := &plugin.NodeContext{Items: []any{map[string]any{"n": 1}, map[string]any{"n": 2}}}
	res, err := tr.Execute(context.Background(), nc).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []any{
		map[string]any{"n": 1, "copy": 1, "tag": "n=1"},
		map[string]any{"n": 2, "copy": 2, "tag": "n=2"},
	}
	if !reflect.DeepEqual(res.Data, want) {
		t.Fatalf("got %#v, want %#v", res.Data, want)
	}
}

func TestTransformValidateConfig(t *testing.T) {
	tr := &Transform{}
	if err := tr.ValidateConfig(plugin.Config{}); err == nil {
		t.Fatalf("expected missing fields error")
	}
	if err := tr.ValidateConfig(plugin.Config{"fields": map[string]any{"a": 1}}); err == nil {
		t.Fatalf("expected non-string template error")
	}
}

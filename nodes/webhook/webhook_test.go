package webhook

import (
	"context"
	"reflect"
	"testing"

	"github.com/Tsinling0525/weir/plugin"
)

func run(t *testing.T, cfg plugin.Config, input map[string]any) plugin.NodeResult {
	t.Helper()
	w := &Webhook{}
	if err := w.Init(context.Background(), plugin.Deps{}, cfg); err != nil {
		t.Fatal(err)
	}
	res, err := w.Execute(context.Background(), &plugin.NodeContext{Input: input}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestWebhookPassesPayload(t *testing.T) {
	res := run(t, nil, map[string]any{"a": 1, "b": 2})
	if !reflect.DeepEqual(res.Data, map[string]any{"a": 1, "b": 2}) {
		t.Fatalf("unexpected data %v", res.Data)
	}
}

func TestWebhookRestrictsFields(t *testing.T) {
	res := run(t, plugin.Config{"fields": []any{"a", "missing"}}, map[string]any{"a": 1, "b": 2})
	if !reflect.DeepEqual(res.Data, map[string]any{"a": 1}) {
		t.Fatalf("unexpected data %v", res.Data)
	}
}

func TestWebhookWithoutDataWaits(t *testing.T) {
	res := run(t, nil, nil)
	if !res.Success || res.Data != nil {
		t.Fatalf("expected success without data, got %+v", res)
	}
	if !(&Webhook{}).NodeType().Waits() {
		t.Fatalf("webhook must wait when it has no data")
	}
}

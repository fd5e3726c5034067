package echo

import (
	"context"
	"testing"

	"github.com/Tsinling0525/weir/plugin"
)

func TestEchoAddsLabel(t *testing.T) {
	n := &Echo{}
	if err := n.Init(context.Background(), plugin.Deps{}, plugin.Config{"label": "hi"}); err != nil {
		t.Fatal(err)
	}
	in := map[string]any{"orderId": "X"}
	res, err := n.Execute(context.Background(), &plugin.NodeContext{Input: in}).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := res.Data.(map[string]any)
	if out["orderId"] != "X" || out["echo_label"] != "hi" {
		t.Fatalf("unexpected output %v", out)
	}
	if _, ok := in["echo_label"]; ok {
		t.Fatalf("input was mutated")
	}
}

func TestEchoIsRegistered(t *testing.T) {
	if !plugin.Default().Has("echo") {
		t.Fatalf("echo not registered")
	}
}

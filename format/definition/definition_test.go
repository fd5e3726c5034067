package definition

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const orderYAML = `
id: order-v1
sourceWorkflowId: order
name: Order intake
variables:
  - id: orderId
    type: string
  - id: priority
    type: integer
    default: 3
activities:
  - id: receive
    nodeType: webhook
    start: true
  - id: notify
    nodeType: http:request
    config:
      url: "https://example.invalid/orders/{{orderId}}"
      retries: 1
    outputs:
      notified: "{{status}}"
  - id: done
    nodeType: echo
    end: true
transitions:
  - from: receive
    to: notify
  - from: notify
    to: done
    condition: "{{status}}"
`

func TestParseYAML(t *testing.T) {
	def, err := Parse([]byte(orderYAML))
	if err != nil {
		t.Fatal(err)
	}
	if def.ID != "order-v1" || def.SourceWorkflowID != "order" || len(def.Activities) != 3 {
		t.Fatalf("unexpected definition %+v", def)
	}
	notify := def.Activities[1]
	if notify.Config["retries"] != 1 || notify.Outputs["notified"] != "{{status}}" {
		t.Fatalf("unexpected activity %+v", notify)
	}
	if def.Variables[1].Default != 3 {
		t.Fatalf("unexpected default %#v", def.Variables[1].Default)
	}
	if def.Transitions[1].Condition != "{{status}}" {
		t.Fatalf("condition lost: %+v", def.Transitions[1])
	}
}

func TestParseJSON(t *testing.T) {
	def, err := Parse([]byte(`{"id":"j","activities":[{"id":"a","nodeType":"echo","end":true}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if def.ID != "j" || len(def.Activities) != 1 || !def.Activities[0].End {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestParseN8nExport(t *testing.T) {
	def, err := Parse([]byte(`{
		"id": "n8n-wf",
		"nodes": [{"id": "a", "name": "A", "type": "webhook"}, {"id": "b", "name": "B", "type": "echo"}],
		"connections": {"A": {"main": [[{"node": "B", "type": "main", "index": 0}]]}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if def.ID != "n8n-wf" || len(def.Transitions) != 1 || def.StartActivityID != "a" {
		t.Fatalf("unexpected n8n import %+v", def)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("id: x\nactivites: []\n"))
	if err == nil || !strings.Contains(err.Error(), "activites") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := Parse([]byte("  \n")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	def, err := Parse([]byte(orderYAML))
	if err != nil {
		t.Fatal(err)
	}
	out, err := Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, out)
	}
	if again.ID != def.ID || len(again.Activities) != len(def.Activities) || again.Activities[1].Config["url"] != def.Activities[1].Config["url"] {
		t.Fatalf("round trip changed definition:\n%s", out)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.yaml":    orderYAML,
		"a.json":    `{"id":"a","activities":[{"id":"x","nodeType":"echo","end":true}]}`,
		"notes.txt": "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 || defs[0].ID != "a" || defs[1].ID != "order-v1" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
}

func TestReadData(t *testing.T) {
	data, err := ReadData(strings.NewReader(`{"orderId": "X", "qty": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	if data["orderId"] != "X" || data["qty"] != 2 {
		t.Fatalf("unexpected data %v", data)
	}
	empty, err := ReadData(strings.NewReader(""))
	if err != nil || empty != nil {
		t.Fatalf("expected nil data for empty input, got %v %v", empty, err)
	}
}

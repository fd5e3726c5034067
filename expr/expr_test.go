package expr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEvaluateWithoutSegmentsIsIdentity(t *testing.T) {
	e := New()
	ctx := Context{Variables: map[string]any{"a": 1}}
	for _, tpl := range []string{"", "plain text", "a { b } c", "{single}", "$json.x", "{{ unterminated"} {
		if got := e.Evaluate(tpl, ctx); got != tpl {
			t.Errorf("Evaluate(%q) = %q, expected identity", tpl, got)
		}
	}
}

func TestEvaluateVariables(t *testing.T) {
	e := New()
	ctx := Context{Variables: map[string]any{
		"name":   "ada",
		"count":  3,
		"ratio":  2.5,
		"whole":  float64(7),
		"ok":     true,
		"nested": map[string]any{"k": "v"},
		"list":   []any{1, "two"},
		"none":   nil,
	}}
	cases := map[string]string{
		"{{name}}":           "ada",
		"{{ name }}":         "ada",
		"{{count}}":          "3",
		"{{ratio}}":          "2.5",
		"{{whole}}":          "7",
		"{{ok}}":             "true",
		"{{nested}}":         `{"k":"v"}`,
		"{{list}}":           `[1,"two"]`,
		"{{none}}":           "",
		"{{missing}}":        "",
		"hi {{name}}!":       "hi ada!",
		"{{name}}/{{count}}": "ada/3",
	}
	for tpl, want := range cases {
		if got := e.Evaluate(tpl, ctx); got != want {
			t.Errorf("Evaluate(%q) = %q, expected %q", tpl, got, want)
		}
	}
}

func TestVariableLooksAtInputFirst(t *testing.T) {
	e := New()
	ctx := Context{
		Input:     map[string]any{"id": "from-input"},
		Variables: map[string]any{"id": "from-vars", "other": "v"},
	}
	if got := e.Evaluate("{{id}}", ctx); got != "from-input" {
		t.Fatalf("expected input to win, got %q", got)
	}
	if got := e.Evaluate("{{other}}", ctx); got != "v" {
		t.Fatalf("expected fallback to variables, got %q", got)
	}
	ctx.Input = []any{"not", "a", "map"}
	if got := e.Evaluate("{{id}}", ctx); got != "from-vars" {
		t.Fatalf("expected variables when input is not a map, got %q", got)
	}
}

func TestEvaluatePaths(t *testing.T) {
	e := New()
	ctx := Context{
		Input: map[string]any{
			"order": map[string]any{"id": "X", "items": []any{map[string]any{"sku": "A1"}}},
		},
		NodeData:  map[string]any{"previous": map[string]any{"status": "ok"}},
		Variables: map[string]any{"region": "eu"},
	}
	cases := map[string]string{
		"{{$json.order.id}}":           "X",
		"{{$json.order.items[0].sku}}": "A1",
		"{{$json.order.missing}}":      "",
		"{{$json.[[[}}":                "",
		"{{$node.previous.status}}":    "ok",
		"{{$node.nothing.here}}":       "",
		"{{$workflow.region}}":         "eu",
		"{{$workflow.absent}}":         "",
	}
	for tpl, want := range cases {
		if got := e.Evaluate(tpl, ctx); got != want {
			t.Errorf("Evaluate(%q) = %q, expected %q", tpl, got, want)
		}
	}
}

func TestReplacementIsLiteral(t *testing.T) {
	e := New()
	ctx := Context{Variables: map[string]any{"price": `$1 \n ${x}`}}
	if got := e.Evaluate("cost: {{price}}", ctx); got != `cost: $1 \n ${x}` {
		t.Fatalf("replacement reinterpreted: %q", got)
	}
}

func TestScriptArithmetic(t *testing.T) {
	e := New()
	if got := e.Evaluate("{{= 1 + 1}}", Context{}); got != "2" {
		t.Fatalf("expected 2, got %q", got)
	}
}

func TestMalformedScriptDegrades(t *testing.T) {
	e := New()
	if got := e.Evaluate("{{= (}}", Context{}); got != "{{= (}}" {
		t.Fatalf("expected verbatim segment, got %q", got)
	}
	got := e.Evaluate("a={{= (}} b={{v}}", Context{Variables: map[string]any{"v": "ok"}})
	if got != "a={{= (}} b=ok" {
		t.Fatalf("expected partial substitution, got %q", got)
	}
}

type recordingHost struct {
	got    Bindings
	script string
	result any
	err    error
}

func (h *recordingHost) Eval(_ context.Context, script string, b Bindings) (any, error) {
	h.script = script
	h.got = b
	return h.result, h.err
}

func TestScriptBindings(t *testing.T) {
	host := &recordingHost{result: 42}
	e := New(WithScriptHost(host))
	ctx := Context{
		Input:     map[string]any{"a": 1},
		Variables: map[string]any{"total": 21},
		NodeData:  map[string]any{"previous": "p"},
	}
	if got := e.Evaluate("{{=  total * 2 }}", ctx); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
	if host.script != "total * 2" {
		t.Fatalf("expected trimmed script body, got %q", host.script)
	}
	if host.got.Variables["total"] != 21 || host.got.Input.(map[string]any)["a"] != 1 {
		t.Fatalf("unexpected bindings %+v", host.got)
	}

	host.err = errors.New("boom")
	if got := e.Evaluate("{{= fail}}", ctx); got != "{{= fail}}" {
		t.Fatalf("expected verbatim on host error, got %q", got)
	}
}

func TestYaegiHostBindsNames(t *testing.T) {
	h := YaegiHost{Timeout: 5 * time.Second}
	v, err := h.Eval(context.Background(), `strings.ToUpper(name) + "-" + strconv.Itoa(count)`, Bindings{
		Variables: map[string]any{"name": "ada", "count": 3, "not-an-ident": 1, "strings": "shadow"},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "ADA-3" {
		t.Fatalf("expected ADA-3, got %v", v)
	}
}

func TestResolveKeepsRawValue(t *testing.T) {
	e := New()
	items := []any{1, 2, 3}
	ctx := Context{Input: map[string]any{"items": items}}
	got := e.Resolve("{{$json.items}}", ctx)
	list, ok := got.([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("expected raw list, got %#v", got)
	}
	if s := e.Resolve("n={{$json.items}}", ctx); s != "n=[1,2,3]" {
		t.Fatalf("expected string for mixed template, got %#v", s)
	}
	if s := e.Resolve("plain", ctx); s != "plain" {
		t.Fatalf("expected plain passthrough, got %#v", s)
	}
}

func TestEvaluateAs(t *testing.T) {
	e := New()
	ctx := Context{Variables: map[string]any{"n": "42", "big": "9000000000", "f": "1.5", "b": "true", "s": "x"}}

	cases := []struct {
		tpl    string
		target Type
		want   any
	}{
		{"{{n}}", Int, 42},
		{"{{big}}", Long, int64(9000000000)},
		{"{{f}}", Float, 1.5},
		{"{{b}}", Bool, true},
		{"{{s}}", String, "x"},
	}
	for _, c := range cases {
		got, err := e.EvaluateAs(c.tpl, ctx, c.target)
		if err != nil {
			t.Fatalf("EvaluateAs(%q, %s): %v", c.tpl, c.target, err)
		}
		if got != c.want {
			t.Errorf("EvaluateAs(%q, %s) = %#v, expected %#v", c.tpl, c.target, got, c.want)
		}
	}

	for _, target := range []Type{Int, Long, Float, Bool} {
		_, err := e.EvaluateAs("{{s}}", ctx, target)
		var te *TypeError
		if !errors.As(err, &te) || !errors.Is(err, ErrConversion) {
			t.Errorf("target %s: expected TypeError, got %v", target, err)
		}
	}
	if _, err := e.EvaluateAs("{{big}}", ctx, Int); !errors.Is(err, ErrConversion) {
		t.Errorf("expected int overflow to fail conversion, got %v", err)
	}
}

func TestVariablesExtraction(t *testing.T) {
	e := New()
	got := e.Variables("{{a}} {{ $workflow.b }} {{$json.c}} {{= d}} {{a}}")
	if fmt.Sprint(got) != "[a b]" {
		t.Fatalf("unexpected variables %v", got)
	}
}

func TestContains(t *testing.T) {
	if Contains("no segments") || Contains("{{}}") {
		t.Fatalf("unexpected match")
	}
	if !Contains("x {{y}}") {
		t.Fatalf("expected match")
	}
}

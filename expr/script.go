package expr

import (
	"context"
	"fmt"
	"go/token"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Bindings are the names visible to a script segment.
type Bindings struct {
	Input     any
	Variables map[string]any
	NodeData  any
}

// ScriptHost evaluates the body of a {{= ...}} segment.
type ScriptHost interface {
	Eval(ctx context.Context, script string, b Bindings) (any, error)
}

// Names under which input data and node data are bound in scripts.
const (
	InputName    = "json"
	NodeDataName = "node"
)

// scriptPackages are the only standard library packages a script can import.
var scriptPackages = []string{"strings", "strconv", "math"}

const scopePackage = "weirscope"

// YaegiHost runs each script in a fresh yaegi interpreter restricted to a
// few pure standard library packages.
type YaegiHost struct {
	Timeout time.Duration
}

func (h YaegiHost) Eval(ctx context.Context, script string, b Bindings) (any, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("expr: empty script")
	}
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	i := interp.New(interp.Options{})
	symbols := interp.Exports{}
	for _, pkg := range scriptPackages {
		key := pkg + "/" + pkg
		if syms, ok := stdlib.Symbols[key]; ok {
			symbols[key] = syms
		}
	}
	scope, decls := bindScope(b)
	symbols[scopePackage+"/"+scopePackage] = scope
	if err := i.Use(symbols); err != nil {
		return nil, fmt.Errorf("expr: load symbols: %w", err)
	}

	var prelude strings.Builder
	for _, pkg := range scriptPackages {
		if strings.Contains(script, pkg+".") {
			fmt.Fprintf(&prelude, "import %q\n", pkg)
		}
	}
	fmt.Fprintf(&prelude, "import %q\n", scopePackage)
	for _, d := range decls {
		prelude.WriteString(d)
		prelude.WriteByte('\n')
	}
	if _, err := i.EvalWithContext(ctx, prelude.String()); err != nil {
		return nil, fmt.Errorf("expr: bind scope: %w", err)
	}

	v, err := i.EvalWithContext(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("expr: script: %w", err)
	}
	if !v.IsValid() {
		return nil, nil
	}
	if !v.CanInterface() {
		return nil, fmt.Errorf("expr: script result of type %s is not readable", v.Type())
	}
	return v.Interface(), nil
}

// bindScope exports every binding as a package-level symbol and returns the
// var declarations that alias them under their script names.
func bindScope(b Bindings) (map[string]reflect.Value, []string) {
	exports := map[string]reflect.Value{}
	var decls []string
	n := 0
	add := func(name string, value any) {
		sym := fmt.Sprintf("V%d", n)
		n++
		exports[sym] = settable(value)
		decls = append(decls, fmt.Sprintf("var %s = %s.%s", name, scopePackage, sym))
	}

	add(InputName, b.Input)
	add(NodeDataName, b.NodeData)

	names := make([]string, 0, len(b.Variables))
	for name := range b.Variables {
		if bindable(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		add(name, b.Variables[name])
	}
	return exports, decls
}

func bindable(name string) bool {
	if !token.IsIdentifier(name) || name == "_" {
		return false
	}
	switch name {
	case InputName, NodeDataName, scopePackage:
		return false
	}
	for _, pkg := range scriptPackages {
		if name == pkg {
			return false
		}
	}
	return true
}

// settable returns an addressable value of the dynamic type of v; nil binds
// as an empty interface.
func settable(v any) reflect.Value {
	if v == nil {
		var empty any
		return reflect.ValueOf(&empty).Elem()
	}
	rv := reflect.ValueOf(v)
	p := reflect.New(rv.Type()).Elem()
	p.Set(rv)
	return p
}

package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/plugin"
)

// Transform maps its input through a set of field templates. When the
// engine hands it a chunk of items each item is mapped on its own.
// Config:
//   - fields: map[string]string name -> template
//   - keep: bool, keep the input keys next to the mapped ones
//   - max_batch_size: int (default 100)
type Transform struct {
	ev       *expr.Engine
	fields   map[string]string
	keep     bool
	maxBatch int
}

func (t *Transform) ValidateConfig(cfg plugin.Config) error {
	fields := cfg.Map("fields")
	if len(fields) == 0 {
		return errors.New("fields is required")
	}
	for k, v := range fields {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q: template must be a string", k)
		}
	}
	return nil
}

func (t *Transform) Init(_ context.Context, deps plugin.Deps, cfg plugin.Config) error {
	t.ev = deps.Expr
	if t.ev == nil {
		t.ev = expr.New()
	}
	t.fields = map[string]string{}
	for k, v := range cfg.Map("fields") {
		if s, ok := v.(string); ok {
			t.fields[k] = s
		}
	}
	t.keep, _ = cfg["keep"].(bool)
	t.maxBatch = cfg.Int("max_batch_size", plugin.DefaultMaxBatchSize)
	return nil
}

func (t *Transform) Execute(_ context.Context, nc *plugin.NodeContext) *plugin.Task {
	if len(nc.Items) == 0 {
		return plugin.Completed(plugin.Success(t.apply(nc.Input, nc), nil))
	}
	out := make([]any, len(nc.Items))
	for i, item := range nc.Items {
		out[i] = t.apply(item, nc)
	}
	return plugin.Completed(plugin.Success(out, map[string]any{"items": len(out)}))
}

func (t *Transform) apply(item any, nc *plugin.NodeContext) map[string]any {
	ctx := expr.Context{Input: item, Variables: nc.Variables, NodeData: nc.NodeData}
	out := map[string]any{}
	if m, ok := item.(map[string]any); ok && t.keep {
		for k, v := range m {
			out[k] = v
		}
	}
	for name, tpl := range t.fields {
		out[name] = t.ev.Resolve(tpl, ctx)
	}
	return out
}

func (t *Transform) NodeType() plugin.NodeKind { return plugin.KindTransform }

func (t *Transform) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "transform", Description: "Maps fields through expression templates", Category: "data"}
}

func (t *Transform) Capabilities() plugin.Capabilities {
	return plugin.Capabilities{
		Strategy:       plugin.StrategySync,
		DataStrategies: []plugin.DataStrategy{plugin.DataSingle, plugin.DataBatch},
		Batch:          true,
		MaxBatchSize:   t.maxBatch,
		Idempotent:     true,
	}
}

func init() { plugin.Register("transform", func() plugin.Node { return &Transform{} }) }

package echo

import (
	"context"

	"github.com/Tsinling0525/weir/plugin"
)

// Echo returns its input with the configured label added as echo_label.
type Echo struct {
	deps  plugin.Deps
	label string
}

func (e *Echo) Init(_ context.Context, deps plugin.Deps, cfg plugin.Config) error {
	e.deps = deps
	e.label = cfg.String("label")
	return nil
}

func (e *Echo) Execute(_ context.Context, nc *plugin.NodeContext) *plugin.Task {
	out := make(map[string]any, len(nc.Input)+1)
	for k, v := range nc.Input {
		out[k] = v
	}
	out["echo_label"] = e.label
	return plugin.Completed(plugin.Success(out, nil))
}

func (e *Echo) NodeType() plugin.NodeKind { return plugin.KindAction }

func (e *Echo) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "echo", Description: "Returns the input with echo_label set", Category: "debug"}
}

func (e *Echo) Capabilities() plugin.Capabilities {
	return plugin.Capabilities{Strategy: plugin.StrategySync, Idempotent: true}
}

func init() { plugin.Register("echo", func() plugin.Node { return &Echo{} }) }

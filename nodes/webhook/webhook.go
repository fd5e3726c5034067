package webhook

import (
	"context"

	"github.com/Tsinling0525/weir/plugin"
)

// Webhook is a trigger. It completes with the data it was started or
// resumed with; without data the activity waits for a message.
// Config:
//   - fields: []string (optional) restricts the payload to these keys
type Webhook struct {
	deps   plugin.Deps
	fields []string
}

func (w *Webhook) Init(_ context.Context, deps plugin.Deps, cfg plugin.Config) error {
	w.deps = deps
	switch f := cfg["fields"].(type) {
	case []string:
		w.fields = append([]string(nil), f...)
	case []any:
		for _, v := range f {
			if s, ok := v.(string); ok {
				w.fields = append(w.fields, s)
			}
		}
	}
	return nil
}

func (w *Webhook) Execute(_ context.Context, nc *plugin.NodeContext) *plugin.Task {
	if len(nc.Input) == 0 {
		return plugin.Completed(plugin.Success(nil, nil))
	}
	out := make(map[string]any, len(nc.Input))
	if len(w.fields) == 0 {
		for k, v := range nc.Input {
			out[k] = v
		}
	} else {
		for _, f := range w.fields {
			if v, ok := nc.Input[f]; ok {
				out[f] = v
			}
		}
	}
	return plugin.Completed(plugin.Success(out, map[string]any{"received": len(nc.Input)}))
}

func (w *Webhook) NodeType() plugin.NodeKind { return plugin.KindWebhook }

func (w *Webhook) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "webhook", Description: "Starts or resumes an instance with external data", Category: "trigger"}
}

func (w *Webhook) Capabilities() plugin.Capabilities {
	return plugin.Capabilities{Strategy: plugin.StrategyAsync, Idempotent: true}
}

func init() { plugin.Register("webhook", func() plugin.Node { return &Webhook{} }) }

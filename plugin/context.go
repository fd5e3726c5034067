package plugin

import (
	"time"

	"github.com/Tsinling0525/weir/expr"
)

// NodeContext is built fresh for every execution.
type NodeContext struct {
	WorkflowInstanceID string
	ActivityInstanceID string
	ActivityID         string
	Input              map[string]any
	Variables          map[string]any
	NodeData           map[string]any
	Config             Config
	// Items holds the current chunk when a split activity runs in batches.
	Items []any
}

// Expr returns the expression context for templates evaluated by the node.
func (nc *NodeContext) Expr() expr.Context {
	return expr.Context{Input: nc.Input, Variables: nc.Variables, NodeData: nc.NodeData}
}

type NodeResult struct {
	Success  bool
	Data     any
	Metadata map[string]any
	Err      error
	Duration time.Duration
}

func Success(data any, meta map[string]any) NodeResult {
	return NodeResult{Success: true, Data: data, Metadata: meta}
}

func Failure(err error) NodeResult {
	return NodeResult{Err: err}
}

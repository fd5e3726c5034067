package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tsinling0525/weir/expr"
)

// NodeKind decides how the engine treats a successful result.
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindAction    NodeKind = "action"
	KindTransform NodeKind = "transform"
	KindCondition NodeKind = "condition"
	KindWebhook   NodeKind = "webhook"
	KindHTTP      NodeKind = "http"
	KindDatabase  NodeKind = "database"
	KindFile      NodeKind = "file"
)

// Waits reports whether a successful result without data leaves the
// activity waiting for an external message instead of ending it.
func (k NodeKind) Waits() bool { return k == KindTrigger || k == KindWebhook }

type ExecutionStrategy string

const (
	StrategySync       ExecutionStrategy = "sync"
	StrategyAsync      ExecutionStrategy = "async"
	StrategyRetry      ExecutionStrategy = "retry"
	StrategyIdempotent ExecutionStrategy = "idempotent"
)

type DataStrategy string

const (
	DataSingle DataStrategy = "single"
	DataBatch  DataStrategy = "batch"
	DataStream DataStrategy = "stream"
)

const (
	DefaultMaxBatchSize      = 100
	DefaultEstimatedDuration = 5 * time.Second
)

// Capabilities are advisory flags the engine may consult when scheduling.
type Capabilities struct {
	Strategy          ExecutionStrategy `json:"strategy"`
	DataStrategies    []DataStrategy    `json:"dataStrategies,omitempty"`
	Batch             bool              `json:"batch"`
	MaxBatchSize      int               `json:"maxBatchSize,omitempty"`
	Idempotent        bool              `json:"idempotent"`
	Retryable         bool              `json:"retryable"`
	EstimatedDuration time.Duration     `json:"estimatedDuration,omitempty"`
}

// BatchSize is the largest number of items a single execution may receive.
func (c Capabilities) BatchSize() int {
	if !c.Batch {
		return 1
	}
	if c.MaxBatchSize <= 0 {
		return DefaultMaxBatchSize
	}
	return c.MaxBatchSize
}

// Estimate is the expected duration of one execution. Runs that take
// longer are reported by the engine.
func (c Capabilities) Estimate() time.Duration {
	if c.EstimatedDuration <= 0 {
		return DefaultEstimatedDuration
	}
	return c.EstimatedDuration
}

// Supports reports whether the node accepts data shaped as s. Without
// declared strategies a node takes single items, plus batches when Batch
// is set.
func (c Capabilities) Supports(s DataStrategy) bool {
	if len(c.DataStrategies) == 0 {
		return s == DataSingle || (s == DataBatch && c.Batch)
	}
	for _, ds := range c.DataStrategies {
		if ds == s {
			return true
		}
	}
	return false
}

type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Config is a node's static configuration, fixed at deploy time.
type Config map[string]any

func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c Config) Map(key string) map[string]any {
	m, _ := c[key].(map[string]any)
	return m
}

type Deps struct {
	Bus    EventBus
	Expr   *expr.Engine
	Logger *slog.Logger
}

// Node is a pluggable unit of execution. Execute must not block on the
// work itself; it returns a Task completed later (or immediately).
type Node interface {
	Init(ctx context.Context, deps Deps, cfg Config) error
	Execute(ctx context.Context, nc *NodeContext) *Task
	NodeType() NodeKind
	Descriptor() Descriptor
	Capabilities() Capabilities
}

// Validator is implemented by nodes that check their config at deploy time.
type Validator interface {
	ValidateConfig(cfg Config) error
}

// Closer is implemented by nodes holding resources beyond a deployment.
type Closer interface {
	Close() error
}

type EventBus interface {
	Emit(ctx context.Context, event string, fields map[string]any) error
}

package expr

import (
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
)

// Kind classifies the body of one {{...}} segment.
type Kind int

const (
	KindVariable Kind = iota
	KindScript
	KindJSONPath
	KindNodeData
	KindWorkflow
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindJSONPath:
		return "json-path"
	case KindNodeData:
		return "node-data"
	case KindWorkflow:
		return "workflow-variable"
	default:
		return "variable"
	}
}

const (
	prefixScript   = "="
	prefixJSON     = "$json."
	prefixNode     = "$node."
	prefixWorkflow = "$workflow."
)

// Compiled is the cached classification of one segment body.
type Compiled struct {
	Source     string
	Kind       Kind
	Body       string
	CompiledAt time.Time

	// path is set for json-path and node-data kinds when Body parses.
	path    jp.Expr
	pathErr error
}

// compile classifies a trimmed segment body. Prefix tests run in a fixed
// precedence order: script, json-path, node-data, workflow, variable.
func compile(source string, now time.Time) *Compiled {
	c := &Compiled{Source: source, CompiledAt: now}
	switch {
	case strings.HasPrefix(source, prefixScript):
		c.Kind = KindScript
		c.Body = strings.TrimSpace(strings.TrimPrefix(source, prefixScript))
	case strings.HasPrefix(source, prefixJSON):
		c.Kind = KindJSONPath
		c.Body = strings.TrimPrefix(source, prefixJSON)
	case strings.HasPrefix(source, prefixNode):
		c.Kind = KindNodeData
		c.Body = strings.TrimPrefix(source, prefixNode)
	case strings.HasPrefix(source, prefixWorkflow):
		c.Kind = KindWorkflow
		c.Body = strings.TrimPrefix(source, prefixWorkflow)
	default:
		c.Kind = KindVariable
		c.Body = source
	}
	if c.Kind == KindJSONPath || c.Kind == KindNodeData {
		c.path, c.pathErr = jp.ParseString("$." + c.Body)
	}
	return c
}

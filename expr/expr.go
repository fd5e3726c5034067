// Package expr resolves {{...}} data-binding templates against an execution
// context. Plain substitution never fails: a segment that cannot be evaluated
// is left in place verbatim.
package expr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var segmentPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// DefaultScriptTimeout bounds a single script segment.
const DefaultScriptTimeout = time.Second

// Context is what a template is evaluated against.
type Context struct {
	Input     any
	Variables map[string]any
	NodeData  any
}

type Engine struct {
	cache   *cache
	scripts ScriptHost
	logger  *slog.Logger
	now     func() time.Time

	cacheSize     int
	scriptTimeout time.Duration
	customHost    bool
}

type Option func(*Engine)

// WithCacheSize overrides the compiled-segment cache bound.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cacheSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithScriptHost swaps the sandbox that runs {{= ...}} segments.
func WithScriptHost(h ScriptHost) Option {
	return func(e *Engine) {
		if h != nil {
			e.scripts = h
			e.customHost = true
		}
	}
}

func WithScriptTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scriptTimeout = d
		}
	}
}

// WithClock overrides the clock used to stamp compiled segments.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
		cacheSize:     DefaultCacheSize,
		scriptTimeout: DefaultScriptTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if !e.customHost {
		e.scripts = YaegiHost{Timeout: e.scriptTimeout}
	}
	e.cache = newCache(e.cacheSize)
	return e
}

// Contains reports whether s holds at least one {{...}} segment.
func Contains(s string) bool {
	return strings.Contains(s, "{{") && segmentPattern.MatchString(s)
}

func (e *Engine) Contains(s string) bool { return Contains(s) }

// Evaluate substitutes every segment of template. Replacement text is
// inserted literally.
func (e *Engine) Evaluate(template string, ctx Context) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	matches := segmentPattern.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m[0]])
		v, err := e.segment(template[m[2]:m[3]], ctx)
		if err != nil {
			e.logger.Warn("expression segment failed", "segment", template[m[0]:m[1]], "err", err)
			b.WriteString(template[m[0]:m[1]])
		} else {
			b.WriteString(stringOf(v))
		}
		last = m[1]
	}
	b.WriteString(template[last:])
	return b.String()
}

// Resolve is Evaluate that keeps the raw value when template is exactly one
// segment, so bindings like "{{$json.items}}" yield the list itself.
func (e *Engine) Resolve(template string, ctx Context) any {
	trimmed := strings.TrimSpace(template)
	if m := segmentPattern.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
		v, err := e.segment(trimmed[m[2]:m[3]], ctx)
		if err != nil {
			e.logger.Warn("expression segment failed", "segment", trimmed, "err", err)
			return template
		}
		return v
	}
	return e.Evaluate(template, ctx)
}

// Variables lists the plain and $workflow. variable names referenced by
// template, in first-seen order.
func (e *Engine) Variables(template string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range segmentPattern.FindAllStringSubmatch(template, -1) {
		c := e.compiled(m[1])
		if c.Kind != KindVariable && c.Kind != KindWorkflow {
			continue
		}
		if !seen[c.Body] {
			seen[c.Body] = true
			out = append(out, c.Body)
		}
	}
	return out
}

func (e *Engine) ClearCache() { e.cache.clear() }

func (e *Engine) Stats() CacheStats {
	return CacheStats{Size: e.cache.len(), Max: e.cache.max}
}

// compiled returns the cached compilation of a segment, keyed by its exact
// text between the braces.
func (e *Engine) compiled(raw string) *Compiled {
	if c, ok := e.cache.get(raw); ok {
		return c
	}
	c := compile(strings.TrimSpace(raw), e.now())
	e.cache.put(raw, c)
	return c
}

func (e *Engine) segment(raw string, ctx Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expr: panic: %v", r)
		}
	}()
	c := e.compiled(raw)
	switch c.Kind {
	case KindScript:
		return e.scripts.Eval(context.Background(), c.Body, Bindings{
			Input:     ctx.Input,
			Variables: ctx.Variables,
			NodeData:  ctx.NodeData,
		})
	case KindJSONPath:
		return query(c, ctx.Input), nil
	case KindNodeData:
		return query(c, ctx.NodeData), nil
	case KindWorkflow:
		if v, ok := ctx.Variables[c.Body]; ok {
			return v, nil
		}
		return "", nil
	default:
		if in, ok := ctx.Input.(map[string]any); ok {
			if v, ok := in[c.Body]; ok {
				return v, nil
			}
		}
		if v, ok := ctx.Variables[c.Body]; ok {
			return v, nil
		}
		return "", nil
	}
}

// query evaluates a path segment; any failure resolves to the empty string.
func query(c *Compiled, data any) (v any) {
	if c.pathErr != nil || c.path == nil || data == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			v = ""
		}
	}()
	res := c.path.Get(data)
	if len(res) == 0 || res[0] == nil {
		return ""
	}
	return res[0]
}

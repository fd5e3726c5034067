package httpnode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/plugin"
)

// Request performs one HTTP call per execution.
// Config:
//   - method: string (default GET)
//   - url: string (template)
//   - headers: map[string]string (templates)
//   - json_body: any (string leaves are templates)
//   - timeout: number seconds (default 15)
//   - retries: int (default 2), retry_base_ms: int (default 200)
type Request struct {
	deps    plugin.Deps
	cl      *http.Client
	method  string
	url     string
	headers map[string]string
	body    any
	retry   plugin.RetryPolicy
}

var methods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

func (n *Request) ValidateConfig(cfg plugin.Config) error {
	if cfg.String("url") == "" {
		return errors.New("url is required")
	}
	if m := strings.ToUpper(cfg.String("method")); m != "" && !methods[m] {
		return fmt.Errorf("unsupported method %q", m)
	}
	return nil
}

func (n *Request) Init(_ context.Context, deps plugin.Deps, cfg plugin.Config) error {
	n.deps = deps
	if n.deps.Expr == nil {
		n.deps.Expr = expr.New()
	}
	if n.deps.Logger == nil {
		n.deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n.method = strings.ToUpper(cfg.String("method"))
	if n.method == "" {
		n.method = http.MethodGet
	}
	n.url = cfg.String("url")
	timeout := 15 * time.Second
	if v, ok := cfg["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}
	n.cl = &http.Client{Timeout: timeout}
	if h := cfg.Map("headers"); h != nil {
		n.headers = make(map[string]string, len(h))
		for k, v := range h {
			if s, ok := v.(string); ok {
				n.headers[k] = s
			}
		}
	}
	n.body = cfg["json_body"]
	n.retry = plugin.RetryPolicy{
		MaxRetries: cfg.Int("retries", 2),
		BaseDelay:  time.Duration(cfg.Int("retry_base_ms", 200)) * time.Millisecond,
		Jitter:     true,
	}
	return nil
}

func (n *Request) Execute(ctx context.Context, nc *plugin.NodeContext) *plugin.Task {
	ectx := nc.Expr()
	url := n.deps.Expr.Evaluate(n.url, ectx)
	var payload []byte
	if n.body != nil {
		b, err := json.Marshal(n.render(n.body, ectx))
		if err != nil {
			return plugin.Completed(plugin.Failure(&plugin.NodeError{Type: "HttpError", Message: "encode body", Err: err}))
		}
		payload = b
	}
	headers := make(map[string]string, len(n.headers))
	for k, v := range n.headers {
		headers[k] = n.deps.Expr.Evaluate(v, ectx)
	}

	return plugin.Go(ctx, func(ctx context.Context) (plugin.NodeResult, error) {
		var data map[string]any
		err := n.retry.Do(ctx, func(attempt int) (bool, error) {
			out, err := n.do(ctx, url, headers, payload)
			if err != nil {
				var ne *plugin.NodeError
				retry := true
				if errors.As(err, &ne) {
					retry = ne.Retryable
				}
				if retry {
					n.deps.Logger.Debug("http request failed", "url", url, "attempt", attempt, "err", err)
				}
				return retry, err
			}
			data = out
			return false, nil
		})
		if err != nil {
			var ne *plugin.NodeError
			if !errors.As(err, &ne) {
				ne = &plugin.NodeError{Type: "HttpError", Retryable: true, Err: err}
			}
			return plugin.Failure(ne), nil
		}
		return plugin.Success(data, map[string]any{"method": n.method, "url": url}), nil
	})
}

func (n *Request) do(ctx context.Context, url string, headers map[string]string, payload []byte) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, n.method, url, body)
	if err != nil {
		return nil, &plugin.NodeError{Type: "HttpError", Message: "build request", Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := n.cl.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return nil, &plugin.NodeError{
			Type:      "HttpError",
			Message:   fmt.Sprintf("%s %s: status %d", n.method, url, res.StatusCode),
			Retryable: res.StatusCode >= 500,
		}
	}
	var decoded any
	if json.Unmarshal(raw, &decoded) != nil {
		decoded = string(raw)
	}
	hdrs := make(map[string]any, len(res.Header))
	for k := range res.Header {
		hdrs[k] = res.Header.Get(k)
	}
	return map[string]any{"status": res.StatusCode, "headers": hdrs, "body": decoded}, nil
}

// render resolves every string leaf of v as a template.
func (n *Request) render(v any, ctx expr.Context) any {
	switch t := v.(type) {
	case string:
		return n.deps.Expr.Resolve(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = n.render(vv, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = n.render(vv, ctx)
		}
		return out
	}
	return v
}

func (n *Request) NodeType() plugin.NodeKind { return plugin.KindAction }

func (n *Request) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "http:request", Description: "Calls an HTTP endpoint", Category: "network"}
}

func (n *Request) Capabilities() plugin.Capabilities {
	idem := n.method == http.MethodGet || n.method == http.MethodHead || n.method == http.MethodPut || n.method == http.MethodDelete
	return plugin.Capabilities{
		Strategy:          plugin.StrategyRetry,
		Idempotent:        idem,
		Retryable:         true,
		EstimatedDuration: time.Second,
	}
}

func init() { plugin.Register("http:request", func() plugin.Node { return &Request{} }) }

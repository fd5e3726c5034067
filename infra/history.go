package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultHistoryLines bounds the lines kept per instance.
const DefaultHistoryLines = 1000

// History is an event bus that keeps a bounded, timestamped log of
// lifecycle events per instance. Oldest lines are trimmed first.
type History struct {
	mu      sync.Mutex
	logs    map[string][]string
	maxLogs int
	now     func() time.Time
}

func NewHistory(maxLines int) *History {
	if maxLines <= 0 {
		maxLines = DefaultHistoryLines
	}
	return &History{logs: map[string][]string{}, maxLogs: maxLines, now: time.Now}
}

// Emit records events carrying an "instance" field; others are ignored.
func (h *History) Emit(ctx context.Context, event string, fields map[string]any) error {
	id, _ := fields["instance"].(string)
	if id == "" {
		return nil
	}
	h.logf(id, "%s%s", event, formatFields(fields))
	return nil
}

func (h *History) logf(id, format string, a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	line := h.now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, a...)
	logs := h.logs[id]
	if logs == nil {
		logs = make([]string, 0, 16)
	}
	logs = append(logs, line)
	if len(logs) > h.maxLogs {
		// trim oldest
		logs = logs[len(logs)-h.maxLogs:]
	}
	h.logs[id] = logs
}

// Logs returns a copy of the lines recorded for an instance.
func (h *History) Logs(id string) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	logs, ok := h.logs[id]
	if !ok {
		return nil, false
	}
	out := make([]string, len(logs))
	copy(out, logs)
	return out, true
}

func (h *History) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.logs, id)
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "instance" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

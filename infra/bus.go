package infra

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Tsinling0525/weir/plugin"
)

// NullBus is a no-op event bus implementation.
type NullBus struct{}

func (NullBus) Emit(context.Context, string, map[string]any) error { return nil }

// MultiBus fans every event out to all of its buses.
type MultiBus []plugin.EventBus

func (m MultiBus) Emit(ctx context.Context, event string, fields map[string]any) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Emit(ctx, event, fields); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogBus writes every event to a structured logger at debug level.
type LogBus struct{ Logger *slog.Logger }

func (l LogBus) Emit(ctx context.Context, event string, fields map[string]any) error {
	if l.Logger == nil {
		return nil
	}
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "event", event)
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Logger.DebugContext(ctx, "engine event", args...)
	return nil
}

// Ensure interface implementation at compile time
var (
	_ plugin.EventBus = NullBus{}
	_ plugin.EventBus = MultiBus{}
	_ plugin.EventBus = LogBus{}
	_ plugin.EventBus = (*History)(nil)
)

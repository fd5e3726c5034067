package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/Tsinling0525/weir/plugin"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrDeadEnd         = errors.New("dead end: no transition to take")
	ErrAmbiguousBranch = errors.New("ambiguous branching")
	ErrEngineClosed    = errors.New("engine closed")
)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// errorType classifies a node or routing failure for the errorType variable.
func errorType(err error) string {
	var ne *plugin.NodeError
	if errors.As(err, &ne) && ne.Type != "" {
		return ne.Type
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrDeadEnd):
		return "DeadEnd"
	case errors.Is(err, ErrAmbiguousBranch):
		return "AmbiguousBranch"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

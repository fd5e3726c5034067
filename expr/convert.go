package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type is a target of typed evaluation.
type Type string

const (
	String Type = "string"
	Int    Type = "int"
	Long   Type = "long"
	Float  Type = "float"
	Bool   Type = "bool"
)

// ErrConversion marks a typed evaluation whose result could not be parsed.
var ErrConversion = errors.New("expr: conversion failed")

// TypeError is returned by EvaluateAs. It is distinct from segment
// evaluation failures, which never surface as errors.
type TypeError struct {
	Template string
	Target   Type
	Value    string
	Err      error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("expr: cannot convert %q (from %q) to %s: %v", e.Value, e.Template, e.Target, e.Err)
}

func (e *TypeError) Unwrap() error { return e.Err }

func (e *TypeError) Is(target error) bool { return target == ErrConversion }

// EvaluateAs evaluates template and parses the result into target.
func (e *Engine) EvaluateAs(template string, ctx Context, target Type) (any, error) {
	s := e.Evaluate(template, ctx)
	if target == String || target == "" {
		return s, nil
	}
	trimmed := strings.TrimSpace(s)
	var (
		v   any
		err error
	)
	switch target {
	case Int:
		var n int64
		n, err = strconv.ParseInt(trimmed, 10, 32)
		v = int(n)
	case Long:
		v, err = strconv.ParseInt(trimmed, 10, 64)
	case Float:
		v, err = strconv.ParseFloat(trimmed, 64)
	case Bool:
		v, err = strconv.ParseBool(trimmed)
	default:
		err = fmt.Errorf("unknown target type")
	}
	if err != nil {
		return nil, &TypeError{Template: template, Target: target, Value: s, Err: err}
	}
	return v, nil
}

// stringOf renders a resolved value for substitution.
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	case map[string]any, []any:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// StringOf exposes the substitution rendering used by Evaluate.
func StringOf(v any) string { return stringOf(v) }

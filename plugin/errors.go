package plugin

import "fmt"

// NodeError is the failure a node reports through its result.
type NodeError struct {
	Type      string
	Message   string
	Retryable bool
	Err       error
}

func (e *NodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Type == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Errorf builds a NodeError of the given type.
func Errorf(typ, format string, args ...any) *NodeError {
	return &NodeError{Type: typ, Message: fmt.Sprintf(format, args...)}
}

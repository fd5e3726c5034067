package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is the completion handle of one node execution. It completes exactly
// once, either with a NodeResult or by failing outright.
type Task struct {
	once sync.Once
	done chan struct{}
	res  NodeResult
	err  error
}

func NewTask() *Task { return &Task{done: make(chan struct{})} }

// Complete settles the task with res. It reports false when already settled.
func (t *Task) Complete(res NodeResult) bool {
	settled := false
	t.once.Do(func() {
		t.res = res
		settled = true
		close(t.done)
	})
	return settled
}

// Fail settles the task as rejected.
func (t *Task) Fail(err error) bool {
	if err == nil {
		err = fmt.Errorf("plugin: task failed without error")
	}
	settled := false
	t.once.Do(func() {
		t.err = err
		settled = true
		close(t.done)
	})
	return settled
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the settled outcome. It must only be called after Done.
func (t *Task) Result() (NodeResult, error) { return t.res, t.err }

func (t *Task) Wait(ctx context.Context) (NodeResult, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return NodeResult{}, ctx.Err()
	}
}

// Completed returns an already-settled task.
func Completed(res NodeResult) *Task {
	t := NewTask()
	t.Complete(res)
	return t
}

func Failed(err error) *Task {
	t := NewTask()
	t.Fail(err)
	return t
}

// Go runs fn on its own goroutine and settles the task with its outcome,
// recording the duration when fn leaves it unset. A panic fails the task.
func Go(ctx context.Context, fn func(ctx context.Context) (NodeResult, error)) *Task {
	t := NewTask()
	go func() {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				t.Fail(&NodeError{Type: "Panic", Message: fmt.Sprint(r)})
			}
		}()
		res, err := fn(ctx)
		if err != nil {
			t.Fail(err)
			return
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		t.Complete(res)
	}()
	return t
}

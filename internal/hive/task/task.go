package task

import (
	"context"

	"github.com/hack3ric/hive/internal/hive/sandbox"
)

// Fn produces the script-side work for a task: given the worker's sandbox,
// it returns the future the worker will drive to completion. Runs on the
// worker thread.
type Fn func(sb *sandbox.Sandbox) (*sandbox.Future, error)

// Result is what lands on a task's reply channel.
type Result struct {
	Value any
	Err   error
}

// Task is a submitted unit of work: the work producer plus a one-shot reply
// channel. Owned by the submitter until sent, then by the worker until the
// reply is delivered.
type Task struct {
	fn    Fn
	ctx   context.Context
	reply chan Result
}

// NewTask packages fn with a fresh reply channel. The context is the
// submitter's; the worker drops the task once it is cancelled.
func NewTask(ctx context.Context, fn Fn) *Task {
	return &Task{
		fn:    fn,
		ctx:   ctx,
		reply: make(chan Result, 1),
	}
}

// Reply returns the receive side of the reply channel.
func (t *Task) Reply() <-chan Result { return t.reply }

// taskFuture is the in-flight representation of a Task on a worker. It owns
// the sandbox future and delivers the result exactly once.
type taskFuture struct {
	fut   *sandbox.Future
	ctx   context.Context
	reply chan Result
}

// start runs the task's producer against the worker's sandbox. An error
// from the producer fails the task immediately.
func (t *Task) start(sb *sandbox.Sandbox) (*taskFuture, error) {
	fut, err := t.fn(sb)
	if err != nil {
		t.reply <- Result{Err: err}
		return nil, err
	}
	return &taskFuture{fut: fut, ctx: t.ctx, reply: t.reply}, nil
}

// poll drives the future one step with the given waker installed. Returns
// (done, err): done futures have delivered their reply; a cancelled context
// counts as done without one, since nobody is listening.
func (f *taskFuture) poll(w *Waker) (bool, error) {
	if err := f.ctx.Err(); err != nil {
		f.fut.Complete(nil, err)
		return true, nil
	}

	f.fut.SetWake(w.Wake)
	val, err, ready := f.fut.Poll()
	if !ready {
		return false, nil
	}

	// Reply channel has capacity 1 and a single producer; this never blocks
	// even when the requester has gone away.
	f.reply <- Result{Value: val, Err: err}
	return true, err
}

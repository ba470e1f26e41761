package sandbox

import "sync"

// Future is the in-flight result of running script code on a worker: a
// value that may still be waiting on host I/O scheduled outside the worker
// thread.
//
// Completions arrive as jobs: closures enqueued by I/O goroutines that the
// owning worker runs on its own thread during Poll, so the interpreter is
// only ever touched single-threaded. Enqueue wakes the worker through the
// cooperative waker installed with SetWake.
type Future struct {
	mu   sync.Mutex
	jobs []func()
	wake func()
	done bool
	val  any
	err  error

	// settle inspects interpreter state (e.g. a promise) after jobs ran.
	// Runs on the worker thread only.
	settle func(f *Future)
}

// NewFuture returns a pending future whose settle hook decides completion.
func NewFuture(settle func(f *Future)) *Future {
	return &Future{settle: settle}
}

// DoneFuture returns an already completed future.
func DoneFuture(val any, err error) *Future {
	return &Future{done: true, val: val, err: err}
}

// SetWake installs the worker's cooperative waker. Called by the worker
// before every poll; the previous waker is discarded.
func (f *Future) SetWake(wake func()) {
	f.mu.Lock()
	f.wake = wake
	pending := len(f.jobs) > 0 && !f.done
	f.mu.Unlock()
	// A job may have arrived between polls while no waker was armed.
	if pending && wake != nil {
		wake()
	}
}

// Enqueue schedules a closure to run on the worker thread and nudges the
// worker. Safe to call from any goroutine. Jobs enqueued after completion
// are dropped.
func (f *Future) Enqueue(job func()) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.jobs = append(f.jobs, job)
	wake := f.wake
	f.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// Complete marks the future done. Worker thread only.
func (f *Future) Complete(val any, err error) {
	f.mu.Lock()
	if !f.done {
		f.done = true
		f.val = val
		f.err = err
		f.jobs = nil
	}
	f.mu.Unlock()
}

// Poll drains pending jobs on the calling (worker) thread and reports
// completion. Returns ready=false while inner I/O is still outstanding.
func (f *Future) Poll() (val any, err error, ready bool) {
	for {
		f.mu.Lock()
		if f.done {
			val, err = f.val, f.err
			f.mu.Unlock()
			return val, err, true
		}
		if len(f.jobs) == 0 {
			f.mu.Unlock()
			return nil, nil, false
		}
		jobs := f.jobs
		f.jobs = nil
		f.mu.Unlock()

		for _, job := range jobs {
			job()
		}
		if f.settle != nil {
			f.settle(f)
		}
	}
}

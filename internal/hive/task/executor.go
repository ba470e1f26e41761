package task

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/logger"
	"github.com/hack3ric/hive/internal/pkg/metrics"
)

const (
	// taskQueueSize bounds tasks accepted but not yet picked up by the
	// worker loop; submitters past it block.
	taskQueueSize = 16

	// defaultCleanInterval paces the sandbox reclamation hook.
	defaultCleanInterval = 600 * time.Second
)

// Executor is one worker: an OS-thread-locked goroutine owning a single
// Sandbox, cooperatively driving many task futures on it.
type Executor struct {
	name     string
	taskCh   chan *Task
	stopOnce sync.Once
	stopCh   chan struct{}
	panicked atomic.Bool
	clean    time.Duration
}

// NewExecutor spawns a named worker. The factory runs inside the worker
// goroutine since the interpreter must be created on the thread that will
// own it; a factory failure marks the worker panicked.
func NewExecutor(factory sandbox.Factory, name string) *Executor {
	return newExecutor(factory, name, defaultCleanInterval)
}

func newExecutor(factory sandbox.Factory, name string, clean time.Duration) *Executor {
	e := &Executor{
		name:   name,
		taskCh: make(chan *Task, taskQueueSize),
		stopCh: make(chan struct{}),
		clean:  clean,
	}
	go e.run(factory)
	return e
}

// Send enqueues a task, blocking for backpressure when the queue is full.
// Fails once the worker is stopped or the context is cancelled.
func (e *Executor) Send(ctx context.Context, t *Task) error {
	if e.panicked.Load() {
		return apperrors.ErrExecutorClosed
	}
	select {
	case <-e.stopCh:
		return apperrors.ErrExecutorClosed
	default:
	}
	select {
	case e.taskCh <- t:
		metrics.TasksTotal.WithLabelValues(e.name).Inc()
		return nil
	case <-e.stopCh:
		return apperrors.ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPanicked observes the panic flag set when the worker thread unwinds.
func (e *Executor) IsPanicked() bool {
	return e.panicked.Load()
}

// Name returns the worker's name.
func (e *Executor) Name() string { return e.name }

// Close signals the worker loop to exit. In-flight futures are dropped;
// their callers observe cancellation through their own contexts.
func (e *Executor) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// run is the worker body: single-threaded cooperative loop over four event
// sources (stop, waker, cleanup tick, new tasks).
func (e *Executor) run(factory sandbox.Factory) {
	log := logger.Named(e.name)

	// Drop-guard: any panic below flags the worker so the pool stops
	// routing to it.
	defer func() {
		if r := recover(); r != nil {
			e.panicked.Store(true)
			metrics.WorkerPanics.Inc()
			log.Error("sandbox worker panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	// The interpreter is not movable across threads; pin the goroutine for
	// its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sb, err := factory()
	if err != nil {
		panic("sandbox factory failed: " + err.Error())
	}

	wakeCh := newWakerChan()
	waker := newWaker(wakeCh)
	var active []*taskFuture

	cleanTick := time.NewTicker(e.clean)
	defer cleanTick.Stop()

	log.Debug("sandbox worker started")
	for {
		select {
		case <-e.stopCh:
			log.Debug("sandbox worker stopping")
			e.dropActive(active)
			return

		case <-wakeCh:
			// Fresh waker generation before polling, so wakes arriving
			// during the poll produce a new signal.
			waker = newWaker(wakeCh)
			active = e.pollActive(active, waker, log)

		case <-cleanTick.C:
			sb.Cleanup(e.clean)

		case t := <-e.taskCh:
			fut, err := t.start(sb)
			if err != nil {
				metrics.TaskErrorsTotal.WithLabelValues(e.name).Inc()
				log.Warn("task producer failed", zap.Error(err))
				continue
			}
			active = append(active, fut)
			metrics.TasksInFlight.Inc()
			waker.Wake()
		}
	}
}

// pollActive polls every active future once. Completed futures leave the
// set; if any completed, the worker re-wakes itself so remaining
// completions drain without starving the other event sources.
func (e *Executor) pollActive(active []*taskFuture, waker *Waker, log *zap.Logger) []*taskFuture {
	completed := 0
	kept := active[:0]
	for _, f := range active {
		done, err := f.poll(waker)
		if !done {
			kept = append(kept, f)
			continue
		}
		completed++
		metrics.TasksInFlight.Dec()
		if err != nil {
			metrics.TaskErrorsTotal.WithLabelValues(e.name).Inc()
			log.Warn("polling task failed", zap.Error(err))
		}
	}
	if completed > 0 {
		waker.Wake()
	}
	return kept
}

func (e *Executor) dropActive(active []*taskFuture) {
	for _, f := range active {
		f.fut.Complete(nil, context.Canceled)
		metrics.TasksInFlight.Dec()
	}
}

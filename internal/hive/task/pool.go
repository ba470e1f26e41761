package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// SandboxPool fans tasks out over a fixed set of workers and is the only
// way the rest of the system reaches a sandbox.
type SandboxPool struct {
	workers []*Executor
	next    atomic.Uint64
}

// NewSandboxPool spawns size named workers ("<prefix>-0", ...). The factory
// is invoked once inside each worker thread.
func NewSandboxPool(namePrefix string, size int, factory sandbox.Factory) *SandboxPool {
	if size < 1 {
		size = 1
	}
	workers := make([]*Executor, size)
	for i := range workers {
		workers[i] = NewExecutor(factory, fmt.Sprintf("%s-%d", namePrefix, i))
	}
	return &SandboxPool{workers: workers}
}

// Scope runs fn on some worker's sandbox and waits for its result. Worker
// selection is round-robin, skipping panicked workers; when every worker is
// panicked the pool is unavailable.
func (p *SandboxPool) Scope(ctx context.Context, fn Fn) (any, error) {
	w, err := p.pick()
	if err != nil {
		return nil, err
	}

	t := NewTask(ctx, fn)
	if err := t.send(ctx, p, w); err != nil {
		return nil, err
	}

	select {
	case r := <-t.Reply():
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send submits to the picked worker, falling over to the next one when the
// worker died between pick and send.
func (t *Task) send(ctx context.Context, p *SandboxPool, w *Executor) error {
	for range p.workers {
		if sendErr := w.Send(ctx, t); sendErr == nil {
			return nil
		} else if sendErr == apperrors.ErrExecutorClosed {
			var pickErr error
			if w, pickErr = p.pick(); pickErr != nil {
				return pickErr
			}
			continue
		} else {
			return sendErr
		}
	}
	return apperrors.ErrPoolUnavailable
}

// pick returns the next healthy worker.
func (p *SandboxPool) pick() (*Executor, error) {
	n := len(p.workers)
	start := p.next.Add(1)
	for i := 0; i < n; i++ {
		w := p.workers[(int(start)+i)%n]
		if !w.IsPanicked() {
			return w, nil
		}
	}
	return nil, apperrors.ErrPoolUnavailable
}

// Each runs fn on every healthy worker and waits for all replies.
// Best-effort: per-worker failures are collected, not fatal to the rest.
func (p *SandboxPool) Each(ctx context.Context, fn Fn) error {
	var firstErr error
	replies := make([]*Task, 0, len(p.workers))
	for _, w := range p.workers {
		if w.IsPanicked() {
			continue
		}
		t := NewTask(ctx, fn)
		if err := w.Send(ctx, t); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replies = append(replies, t)
	}
	for _, t := range replies {
		select {
		case r := <-t.Reply():
			if r.Err != nil && firstErr == nil {
				firstErr = r.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

// Size returns the number of workers, healthy or not.
func (p *SandboxPool) Size() int { return len(p.workers) }

// Healthy returns the number of workers that have not panicked.
func (p *SandboxPool) Healthy() int {
	healthy := 0
	for _, w := range p.workers {
		if !w.IsPanicked() {
			healthy++
		}
	}
	return healthy
}

// Close stops every worker. In-flight tasks observe cancellation.
func (p *SandboxPool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}

package service

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// RunningService is the shared handle to a live service. Request paths hold
// it only long enough to take a Guard; stopping waits until every
// outstanding guard is dropped.
type RunningService struct {
	name Name
	impl atomic.Pointer[ServiceImpl]

	mu      sync.Mutex
	refs    int
	stopped bool
	drained chan struct{}
}

func newRunning(impl *ServiceImpl) *RunningService {
	r := &RunningService{
		name:    impl.Name(),
		drained: make(chan struct{}),
	}
	r.impl.Store(impl)
	return r
}

// Name returns the service name.
func (r *RunningService) Name() Name { return r.name }

// Impl returns the current body. Request dispatch must not use this
// directly; take a Guard so the body cannot be stopped mid-request.
func (r *RunningService) Impl() *ServiceImpl { return r.impl.Load() }

// TryUpgrade atomically checks the running state and takes a guard. Fails
// with ServiceStopped once a stop has begun.
func (r *RunningService) TryUpgrade() (*Guard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, apperrors.ServiceStopped(string(r.name))
	}
	impl := r.impl.Load()
	if impl == nil {
		return nil, apperrors.ServiceDropped()
	}
	r.refs++
	return &Guard{r: r, impl: impl}, nil
}

// swap installs a new body for a hot update, returning the replaced one.
func (r *RunningService) swap(impl *ServiceImpl) (*ServiceImpl, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, apperrors.ServiceStopped(string(r.name))
	}
	return r.impl.Swap(impl), nil
}

// stop flips the handle to its tombstone state and waits for outstanding
// guards to drain. Only one caller wins; the rest observe ServiceStopped.
func (r *RunningService) stop(ctx context.Context) (*ServiceImpl, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, apperrors.ServiceStopped(string(r.name))
	}
	r.stopped = true
	if r.refs == 0 {
		close(r.drained)
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
		return r.impl.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Guard pins a body for the duration of one request. Guards taken before a
// hot update keep serving the old body.
type Guard struct {
	r    *RunningService
	impl *ServiceImpl
	once sync.Once
}

// Impl returns the body pinned at upgrade time.
func (g *Guard) Impl() *ServiceImpl { return g.impl }

// Drop releases the guard. Idempotent.
func (g *Guard) Drop() {
	g.once.Do(func() {
		g.r.mu.Lock()
		g.r.refs--
		if g.r.stopped && g.r.refs == 0 {
			close(g.r.drained)
		}
		g.r.mu.Unlock()
	})
}

// Service is the registry's view of one name: exactly one of the variants
// is set.
type Service struct {
	running *RunningService
	stopped *ServiceImpl
}

// Running returns the live handle when the service is running.
func (s Service) Running() (*RunningService, bool) { return s.running, s.running != nil }

// Stopped returns the body when the service is stopped.
func (s Service) Stopped() (*ServiceImpl, bool) {
	if s.running != nil {
		return nil, false
	}
	return s.stopped, s.stopped != nil
}

// Name returns the service name in either state.
func (s Service) Name() Name {
	if s.running != nil {
		return s.running.Name()
	}
	return s.stopped.Name()
}

// impl returns the current body in either state.
func (s Service) impl() *ServiceImpl {
	if s.running != nil {
		return s.running.Impl()
	}
	return s.stopped
}

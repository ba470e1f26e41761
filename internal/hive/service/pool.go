package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	"github.com/hack3ric/hive/internal/hive/task"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/metrics"
)

// Pool is the concurrent registry of services. All transitions for a name
// are serialized under the pool lock; guard draining happens outside it so
// a slow stop never blocks dispatch of other services.
type Pool struct {
	mu       sync.RWMutex
	services map[Name]Service
	exec     *task.SandboxPool
}

// NewPool creates a registry backed by the given sandbox pool; every load
// compile-checks its source on one of the pool's workers.
func NewPool(exec *task.SandboxPool) *Pool {
	return &Pool{
		services: make(map[Name]Service),
		exec:     exec,
	}
}

// Load compiles and registers a service in the stopped state. An existing
// stopped body under the same name is replaced and returned; loading over a
// running service fails with ServiceLive. The stable ID is kept from the
// replaced body, or taken from id, or minted fresh.
func (p *Pool) Load(ctx context.Context, rawName string, id *uuid.UUID, source []byte, cfg Config) (*ServiceImpl, *ServiceImpl, error) {
	name, err := NewName(rawName)
	if err != nil {
		return nil, nil, err
	}

	p.mu.RLock()
	existing, ok := p.services[name]
	p.mu.RUnlock()
	if ok {
		if _, running := existing.Running(); running {
			return nil, nil, apperrors.ServiceLive(string(name))
		}
	}

	implID := uuid.New()
	if ok {
		implID = existing.impl().ID()
	} else if id != nil {
		implID = *id
	}

	impl, err := newImpl(implID, name, source, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := p.preflight(ctx, impl); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-check: the service may have been started while we compiled.
	if current, ok := p.services[name]; ok {
		if _, running := current.Running(); running {
			return nil, nil, apperrors.ServiceLive(string(name))
		}
	}
	var replaced *ServiceImpl
	if current, ok := p.services[name]; ok {
		replaced, _ = current.Stopped()
	}
	p.services[name] = Service{stopped: impl}
	p.updateMetrics()
	return impl, replaced, nil
}

// Start transitions a stopped service to running.
func (p *Pool) Start(_ context.Context, rawName string) (*RunningService, error) {
	name, err := NewName(rawName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	svc, ok := p.services[name]
	if !ok {
		return nil, apperrors.ServiceNotFound(string(name))
	}
	if _, running := svc.Running(); running {
		return nil, apperrors.ServiceLive(string(name))
	}
	impl, _ := svc.Stopped()
	rs := newRunning(impl)
	p.services[name] = Service{running: rs}
	p.updateMetrics()
	return rs, nil
}

// Stop transitions a running service to stopped, draining outstanding
// request guards first. Concurrent stops race; the losers observe
// ServiceStopped.
func (p *Pool) Stop(ctx context.Context, rawName string) (*ServiceImpl, error) {
	name, err := NewName(rawName)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	svc, ok := p.services[name]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.ServiceNotFound(string(name))
	}
	rs, running := svc.Running()
	if !running {
		return nil, apperrors.ServiceStopped(string(name))
	}

	impl, err := rs.stop(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Install the tombstone only if the entry still belongs to this handle;
	// a concurrent remove-and-reload must not be clobbered.
	if current, ok := p.services[name]; ok {
		if cur, isRunning := current.Running(); isRunning && cur == rs {
			p.services[name] = Service{stopped: impl}
		}
	}
	p.updateMetrics()
	return impl, nil
}

// StopAll stops every running service, used at shutdown. Races with
// concurrent stops are not errors; everything else aggregates.
func (p *Pool) StopAll(ctx context.Context) error {
	var err error
	for _, svc := range p.List() {
		rs, running := svc.Running()
		if !running {
			continue
		}
		if _, stopErr := p.Stop(ctx, string(rs.Name())); stopErr != nil {
			if apperrors.HasCode(stopErr, apperrors.CodeServiceStopped) {
				continue
			}
			err = multierr.Append(err, stopErr)
		}
	}
	return err
}

// HotUpdate swaps the body of a running service in place. In-flight guards
// keep the old body; new requests see the new one.
func (p *Pool) HotUpdate(ctx context.Context, rawName string, source []byte, cfg Config) (*ServiceImpl, error) {
	name, err := NewName(rawName)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	svc, ok := p.services[name]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.ServiceNotFound(string(name))
	}
	rs, running := svc.Running()
	if !running {
		return nil, apperrors.ServiceStopped(string(name))
	}

	impl, err := newImpl(rs.Impl().ID(), name, source, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.preflight(ctx, impl); err != nil {
		return nil, err
	}
	return rs.swap(impl)
}

// ColdUpdateOrCreate replaces a service wholesale: a running service is
// stopped, replaced and started again; a stopped or absent one is just
// (re)loaded. Returns the resulting service and the replaced body, if any.
func (p *Pool) ColdUpdateOrCreate(ctx context.Context, rawName string, id *uuid.UUID, source []byte, cfg Config) (Service, *ServiceImpl, error) {
	name, err := NewName(rawName)
	if err != nil {
		return Service{}, nil, err
	}

	p.mu.RLock()
	svc, ok := p.services[name]
	p.mu.RUnlock()

	wasRunning := false
	if ok {
		_, wasRunning = svc.Running()
	}

	var replaced *ServiceImpl
	if wasRunning {
		if replaced, err = p.Stop(ctx, rawName); err != nil {
			return Service{}, nil, err
		}
	}

	impl, loadReplaced, err := p.Load(ctx, rawName, id, source, cfg)
	if err != nil {
		return Service{}, nil, err
	}
	if replaced == nil {
		replaced = loadReplaced
	}

	if wasRunning {
		rs, err := p.Start(ctx, rawName)
		if err != nil {
			return Service{}, nil, err
		}
		return Service{running: rs}, replaced, nil
	}
	return Service{stopped: impl}, replaced, nil
}

// Remove drops a stopped service from the registry and best-effort evicts
// its compiled body from every worker.
func (p *Pool) Remove(ctx context.Context, rawName string) (*ServiceImpl, error) {
	name, err := NewName(rawName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	svc, ok := p.services[name]
	if !ok {
		p.mu.Unlock()
		return nil, apperrors.ServiceNotFound(string(name))
	}
	if _, running := svc.Running(); running {
		p.mu.Unlock()
		return nil, apperrors.ServiceLive(string(name))
	}
	impl, _ := svc.Stopped()
	delete(p.services, name)
	p.updateMetrics()
	p.mu.Unlock()

	p.evict(ctx, impl.ID())
	return impl, nil
}

// Get returns the service registered under a name.
func (p *Pool) Get(rawName string) (Service, error) {
	name, err := NewName(rawName)
	if err != nil {
		return Service{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	svc, ok := p.services[name]
	if !ok {
		return Service{}, apperrors.ServiceNotFound(string(name))
	}
	return svc, nil
}

// GetRunning returns the live handle for a name, failing with
// ServiceStopped when the service exists but is not running. Dispatch calls
// this on every request; it takes only the read lock.
func (p *Pool) GetRunning(rawName string) (*RunningService, error) {
	svc, err := p.Get(rawName)
	if err != nil {
		return nil, err
	}
	rs, running := svc.Running()
	if !running {
		return nil, apperrors.ServiceStopped(rawName)
	}
	return rs, nil
}

// List returns a name-ordered snapshot of the registry.
func (p *Pool) List() []Service {
	p.mu.RLock()
	out := make([]Service, 0, len(p.services))
	for _, svc := range p.services {
		out = append(out, svc)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// preflight compiles the body on one worker so broken sources fail the
// upload. The compiled result stays cached in that worker; the others
// compile on first dispatch.
func (p *Pool) preflight(ctx context.Context, impl *ServiceImpl) error {
	spec := impl.Spec()
	_, err := p.exec.Scope(ctx, func(sb *sandbox.Sandbox) (*sandbox.Future, error) {
		return sb.Preflight(spec), nil
	})
	return err
}

// evict drops a removed service's compiled body from every worker.
func (p *Pool) evict(ctx context.Context, id uuid.UUID) {
	p.exec.Each(ctx, func(sb *sandbox.Sandbox) (*sandbox.Future, error) {
		sb.Evict(id)
		return sandbox.DoneFuture(nil, nil), nil
	})
}

// updateMetrics refreshes the lifecycle gauges. Caller holds the lock.
func (p *Pool) updateMetrics() {
	running, stopped := 0, 0
	for _, svc := range p.services {
		if _, isRunning := svc.Running(); isRunning {
			running++
		} else {
			stopped++
		}
	}
	metrics.Services.WithLabelValues("running").Set(float64(running))
	metrics.Services.WithLabelValues("stopped").Set(float64(stopped))
}

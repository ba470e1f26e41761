// Package hive ties the sandbox pool and the service registry together
// behind the facade the HTTP layer talks to.
package hive

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	"github.com/hack3ric/hive/internal/hive/service"
	"github.com/hack3ric/hive/internal/hive/task"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/worker"
)

// State is the process-wide configuration shared by every sandbox.
type State struct {
	LocalStoragePath string
}

// Options configures a Hive.
type Options struct {
	SandboxPoolSize  int
	LocalStoragePath string
	Pools            *worker.Pools
	FetchTimeout     time.Duration
}

// Hive hosts sandboxed services and dispatches requests to them.
type Hive struct {
	sandboxPool *task.SandboxPool
	servicePool *service.Pool
	state       *State
}

// New spawns the sandbox workers and an empty registry.
func New(opts Options) *Hive {
	state := &State{LocalStoragePath: opts.LocalStoragePath}
	factory := sandbox.NewFactory(sandbox.Options{
		LocalStoragePath: state.LocalStoragePath,
		Pools:            opts.Pools,
		FetchTimeout:     opts.FetchTimeout,
	})
	sandboxPool := task.NewSandboxPool("hive-worker", opts.SandboxPoolSize, factory)
	return &Hive{
		sandboxPool: sandboxPool,
		servicePool: service.NewPool(sandboxPool),
		state:       state,
	}
}

// State returns the shared process state.
func (h *Hive) State() *State { return h.state }

// SandboxPool exposes pool health for the readiness endpoint.
func (h *Hive) SandboxPool() *task.SandboxPool { return h.sandboxPool }

// LoadService registers a service in the stopped state, replacing an
// existing stopped body of the same name.
func (h *Hive) LoadService(ctx context.Context, name string, id *uuid.UUID, source []byte, cfg service.Config) (*service.ServiceImpl, *service.ServiceImpl, error) {
	return h.servicePool.Load(ctx, name, id, source, cfg)
}

// PreloadService restores a persisted service at boot under its saved id.
func (h *Hive) PreloadService(ctx context.Context, name string, id uuid.UUID, source []byte, cfg service.Config) (*service.ServiceImpl, error) {
	impl, replaced, err := h.servicePool.Load(ctx, name, &id, source, cfg)
	if err != nil {
		return nil, err
	}
	if replaced != nil {
		// Boot preloads run against an empty registry.
		return nil, apperrors.ServiceExists(name)
	}
	return impl, nil
}

// ColdUpdateOrCreateService replaces a service wholesale, restarting it
// when it was running.
func (h *Hive) ColdUpdateOrCreateService(ctx context.Context, name string, id *uuid.UUID, source []byte, cfg service.Config) (service.Service, *service.ServiceImpl, error) {
	return h.servicePool.ColdUpdateOrCreate(ctx, name, id, source, cfg)
}

// HotUpdateService swaps the body of a running service without dropping
// in-flight requests.
func (h *Hive) HotUpdateService(ctx context.Context, name string, source []byte, cfg service.Config) (*service.ServiceImpl, error) {
	return h.servicePool.HotUpdate(ctx, name, source, cfg)
}

// StartService transitions a stopped service to running.
func (h *Hive) StartService(ctx context.Context, name string) (*service.RunningService, error) {
	return h.servicePool.Start(ctx, name)
}

// StopService transitions a running service to stopped after draining its
// request guards.
func (h *Hive) StopService(ctx context.Context, name string) (*service.ServiceImpl, error) {
	return h.servicePool.Stop(ctx, name)
}

// StopAllServices stops everything; used at shutdown.
func (h *Hive) StopAllServices(ctx context.Context) error {
	return h.servicePool.StopAll(ctx)
}

// RemoveService drops a stopped service.
func (h *Hive) RemoveService(ctx context.Context, name string) (*service.ServiceImpl, error) {
	return h.servicePool.Remove(ctx, name)
}

// GetService returns the service registered under a name.
func (h *Hive) GetService(name string) (service.Service, error) {
	return h.servicePool.Get(name)
}

// GetRunningService returns the live handle for dispatch.
func (h *Hive) GetRunningService(name string) (*service.RunningService, error) {
	return h.servicePool.GetRunning(name)
}

// ListServices returns a snapshot of the registry.
func (h *Hive) ListServices() []service.Service {
	return h.servicePool.List()
}

// RunService executes one request against the body pinned by the guard.
// The caller holds the guard until the response is delivered, so a stop
// started meanwhile waits for this request.
func (h *Hive) RunService(ctx context.Context, guard *service.Guard, subPath string, req *sandbox.Request) (*sandbox.Response, error) {
	spec := guard.Impl().Spec()
	v, err := h.sandboxPool.Scope(ctx, func(sb *sandbox.Sandbox) (*sandbox.Future, error) {
		return sb.HandleRequest(spec, subPath, req), nil
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*sandbox.Response)
	if !ok {
		return nil, apperrors.New(apperrors.CodeInternal,
			"sandbox returned no response", http.StatusInternalServerError)
	}
	return resp, nil
}

// Close stops all services and then the worker pool.
func (h *Hive) Close(ctx context.Context) error {
	err := h.servicePool.StopAll(ctx)
	h.sandboxPool.Close()
	return err
}

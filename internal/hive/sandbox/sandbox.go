// Package sandbox wraps a goja interpreter with the process-wide state and
// the permission-checked bindings scripts see. A Sandbox is owned by exactly
// one worker thread; nothing here is safe for concurrent use except Future.
package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	hivepath "github.com/hack3ric/hive/internal/hive/path"
	"github.com/hack3ric/hive/internal/hive/permission"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/worker"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Options is the process-wide state shared by every sandbox.
type Options struct {
	// LocalStoragePath is the root under which each service gets a private
	// storage directory.
	LocalStoragePath string

	// Pools is the outer scheduler serving blocking host calls.
	Pools *worker.Pools

	// FetchTimeout bounds hive.fetch; zero means 30s.
	FetchTimeout time.Duration
}

// Factory creates a Sandbox. Called once per worker, inside the worker
// thread, because the interpreter must never move across threads.
type Factory func() (*Sandbox, error)

// NewFactory returns a Factory closing over shared state.
func NewFactory(opts Options) Factory {
	return func() (*Sandbox, error) { return New(opts) }
}

// ServiceSpec is the worker-facing description of a loaded service: the
// source to compile plus everything the bindings need. Immutable.
type ServiceSpec struct {
	ID          uuid.UUID
	Revision    uuid.UUID
	Name        string
	Source      []byte
	Permissions permission.Set
	Matchers    []*hivepath.Matcher
	UserConfig  map[string]any
}

// localService is a spec compiled into this sandbox's interpreter.
type localService struct {
	revision uuid.UUID
	handler  goja.Callable
	lastUsed time.Time
}

// Sandbox is one interpreter plus its per-runtime compiled-service cache.
type Sandbox struct {
	vm       *goja.Runtime
	opts     Options
	client   *http.Client
	services map[uuid.UUID]*localService

	// current is the future owning the script code executing right now.
	// Async bindings capture it so completions resume the right task.
	// Worker thread only.
	current *Future
}

// New creates a Sandbox with its interpreter and shared globals.
func New(opts Options) (*Sandbox, error) {
	timeout := opts.FetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	sb := &Sandbox{
		vm:       goja.New(),
		opts:     opts,
		client:   &http.Client{Timeout: timeout},
		services: make(map[uuid.UUID]*localService),
	}
	sb.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := sb.installGlobals(); err != nil {
		return nil, err
	}
	return sb, nil
}

// Preflight compiles and evaluates a spec, verifying the source registers a
// handler. Used by the service pool at load time so broken uploads fail
// before any request arrives.
func (sb *Sandbox) Preflight(spec *ServiceSpec) *Future {
	_, err := sb.ensure(spec)
	return DoneFuture(nil, err)
}

// Evict drops the compiled body of a removed service from this runtime.
func (sb *Sandbox) Evict(id uuid.UUID) {
	delete(sb.services, id)
}

// Cleanup is the periodic reclamation hook: it prunes compiled services
// that have not been used for a full interval. Must not block on I/O.
func (sb *Sandbox) Cleanup(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	for id, ls := range sb.services {
		if ls.lastUsed.Before(cutoff) {
			delete(sb.services, id)
		}
	}
}

// CachedServices reports the size of the compiled-service cache.
func (sb *Sandbox) CachedServices() int { return len(sb.services) }

// ensure returns the compiled body for a spec, compiling on demand. A
// revision change invalidates the cached body, which is how hot and cold
// updates propagate to every worker.
func (sb *Sandbox) ensure(spec *ServiceSpec) (*localService, error) {
	if ls, ok := sb.services[spec.ID]; ok && ls.revision == spec.Revision {
		ls.lastUsed = time.Now()
		return ls, nil
	}

	ls, err := sb.compile(spec)
	if err != nil {
		return nil, err
	}
	sb.services[spec.ID] = ls
	return ls, nil
}

// compile evaluates the service source inside a function scope so top-level
// declarations stay private to the service, then captures the handler the
// script registered.
func (sb *Sandbox) compile(spec *ServiceSpec) (*localService, error) {
	src := "(function (hive) {\n\"use strict\";\n" + string(spec.Source) + "\n})"
	program, err := goja.Compile(spec.Name, src, true)
	if err != nil {
		return nil, apperrors.ScriptError(err)
	}

	wrapped, err := sb.vm.RunProgram(program)
	if err != nil {
		return nil, sb.scriptError(err)
	}
	entry, ok := goja.AssertFunction(wrapped)
	if !ok {
		return nil, apperrors.ScriptError(fmt.Errorf("service %q did not compile to a function", spec.Name))
	}

	ls := &localService{revision: spec.Revision, lastUsed: time.Now()}
	hiveObj := sb.hiveObject(spec, ls)
	if _, err := entry(goja.Undefined(), hiveObj); err != nil {
		return nil, sb.scriptError(err)
	}
	if ls.handler == nil {
		return nil, apperrors.ScriptError(fmt.Errorf("service %q did not call hive.register", spec.Name))
	}
	return ls, nil
}

// HandleRequest routes a sub-path through the service's matchers and runs
// the registered handler. The returned future completes with a *Response.
func (sb *Sandbox) HandleRequest(spec *ServiceSpec, subPath string, req *Request) *Future {
	ls, err := sb.ensure(spec)
	if err != nil {
		return DoneFuture(nil, err)
	}

	var params hivepath.Params
	for _, m := range spec.Matchers {
		if params = m.GenParams(subPath); params != nil {
			break
		}
	}
	if params == nil {
		return DoneFuture(nil, apperrors.ServicePathNotFound(spec.Name, subPath))
	}

	req.Path = subPath
	fut := NewFuture(nil)

	sb.current = fut
	res, err := ls.handler(goja.Undefined(), sb.requestValue(req, params))
	sb.current = nil

	if err != nil {
		fut.Complete(nil, sb.scriptError(err))
		return fut
	}

	if promise, ok := res.Export().(*goja.Promise); ok {
		fut.settle = func(f *Future) { sb.settlePromise(f, promise) }
		sb.settlePromise(fut, promise)
		return fut
	}

	resp, err := sb.toResponse(res)
	fut.Complete(resp, err)
	return fut
}

// settlePromise completes the future once the script promise leaves the
// pending state. Worker thread only.
func (sb *Sandbox) settlePromise(fut *Future, promise *goja.Promise) {
	switch promise.State() {
	case goja.PromiseStatePending:
	case goja.PromiseStateFulfilled:
		resp, err := sb.toResponse(promise.Result())
		fut.Complete(resp, err)
	case goja.PromiseStateRejected:
		fut.Complete(nil, sb.rejectionError(promise.Result()))
	}
}

// scriptError maps an interpreter error to the taxonomy, unwrapping values
// thrown through hive.error so script-raised payloads round-trip.
func (sb *Sandbox) scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if mapped := fromErrorValue(ex.Value()); mapped != nil {
			return mapped
		}
	}
	return apperrors.ScriptError(err)
}

func (sb *Sandbox) rejectionError(v goja.Value) error {
	if mapped := fromErrorValue(v); mapped != nil {
		return mapped
	}
	return apperrors.ScriptError(fmt.Errorf("promise rejected: %s", v.String()))
}

// fromErrorValue recognizes the tagged error objects hive.error and the
// host bindings throw. Returns nil for foreign values.
func fromErrorValue(v goja.Value) *apperrors.AppError {
	if v == nil {
		return nil
	}
	m, ok := v.Export().(map[string]any)
	if !ok || m[errTagKey] != true {
		return nil
	}

	status := 500
	switch s := m["status"].(type) {
	case int:
		status = s
	case int64:
		status = int(s)
	case float64:
		status = int(s)
	}
	message, _ := m["message"].(string)
	e := apperrors.ScriptCustom(status, message, m["detail"])
	if code, ok := m["code"].(string); ok && code != "" {
		e.Code = code
	}
	return e
}

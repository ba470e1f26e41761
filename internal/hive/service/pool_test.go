package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	"github.com/hack3ric/hive/internal/hive/task"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

const helloSrc = `hive.register(function(req) { return "hi"; });`

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	storage := t.TempDir()
	exec := task.NewSandboxPool("svc-test", 1, func() (*sandbox.Sandbox, error) {
		return sandbox.New(sandbox.Options{LocalStoragePath: storage})
	})
	t.Cleanup(exec.Close)
	return NewPool(exec)
}

func load(t *testing.T, p *Pool, name, src string) *ServiceImpl {
	t.Helper()
	impl, _, err := p.Load(context.Background(), name, nil, []byte(src), Config{Paths: []string{"/*"}})
	require.NoError(t, err)
	return impl
}

func TestPool_LoadRegistersStopped(t *testing.T) {
	p := newTestPool(t)
	impl := load(t, p, "hello", helloSrc)

	svc, err := p.Get("hello")
	require.NoError(t, err)
	stopped, ok := svc.Stopped()
	require.True(t, ok)
	assert.Same(t, impl, stopped)

	_, err = p.GetRunning("hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceStopped))
}

func TestPool_LoadInvalidName(t *testing.T) {
	p := newTestPool(t)
	_, _, err := p.Load(context.Background(), "invalid name!", nil, []byte(helloSrc), Config{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidServiceName))
}

func TestPool_LoadBrokenSourceFailsPreflight(t *testing.T) {
	p := newTestPool(t)
	_, _, err := p.Load(context.Background(), "broken", nil, []byte(`function (`), Config{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeScriptError))

	_, getErr := p.Get("broken")
	assert.True(t, apperrors.HasCode(getErr, apperrors.CodeServiceNotFound),
		"a failed load must not register the service")
}

func TestPool_LoadReplacesStoppedBody(t *testing.T) {
	p := newTestPool(t)
	first := load(t, p, "hello", helloSrc)
	second, replaced, err := p.Load(context.Background(), "hello", nil, []byte(helloSrc), Config{})
	require.NoError(t, err)

	assert.Same(t, first, replaced)
	assert.Equal(t, first.ID(), second.ID(), "stable id survives reload")
	assert.NotEqual(t, first.Revision(), second.Revision())
}

func TestPool_StateMachine(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	load(t, p, "hello", helloSrc)

	// Stopped: stop, hot update and re-start-less ops fail.
	_, err := p.Stop(ctx, "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceStopped))
	_, err = p.HotUpdate(ctx, "hello", []byte(helloSrc), Config{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceStopped))

	// Stopped → Running.
	rs, err := p.Start(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, Name("hello"), rs.Name())

	// Running: start again, load over, remove all fail ServiceLive.
	_, err = p.Start(ctx, "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceLive))
	_, _, err = p.Load(ctx, "hello", nil, []byte(helloSrc), Config{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceLive))
	_, err = p.Remove(ctx, "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceLive))

	// Running → Stopped → removed.
	_, err = p.Stop(ctx, "hello")
	require.NoError(t, err)
	_, err = p.Remove(ctx, "hello")
	require.NoError(t, err)
	_, err = p.Get("hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
}

func TestPool_UnknownNameEverywhere(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	_, err := p.Start(ctx, "ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
	_, err = p.Stop(ctx, "ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
	_, err = p.Remove(ctx, "ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
	_, err = p.HotUpdate(ctx, "ghost", []byte(helloSrc), Config{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
	_, err = p.GetRunning("ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceNotFound))
}

func TestPool_StopDrainsGuards(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	load(t, p, "hello", helloSrc)
	rs, err := p.Start(ctx, "hello")
	require.NoError(t, err)

	guard, err := rs.TryUpgrade()
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		_, _ = p.Stop(ctx, "hello")
		close(stopped)
	}()

	// Stop must not return while the guard is held.
	select {
	case <-stopped:
		t.Fatal("stop returned with an outstanding guard")
	case <-time.After(100 * time.Millisecond):
	}

	// New guards fail once the stop began.
	require.Eventually(t, func() bool {
		_, err := rs.TryUpgrade()
		return apperrors.HasCode(err, apperrors.CodeServiceStopped)
	}, 5*time.Second, 10*time.Millisecond)

	guard.Drop()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return after the guard dropped")
	}

	_, err = p.GetRunning("hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceStopped))
}

func TestPool_HotUpdateKeepsOldBodyForHeldGuards(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	load(t, p, "hello", helloSrc)
	rs, err := p.Start(ctx, "hello")
	require.NoError(t, err)

	guard, err := rs.TryUpgrade()
	require.NoError(t, err)
	oldImpl := guard.Impl()

	newBody, err := p.HotUpdate(ctx, "hello", []byte(`hive.register(function(req) { return "v2"; });`), Config{Paths: []string{"/*"}})
	require.NoError(t, err)
	assert.Same(t, oldImpl, newBody, "hot update returns the replaced body")

	// The held guard still pins the old body; new upgrades see the new one.
	assert.Same(t, oldImpl, guard.Impl())
	fresh, err := rs.TryUpgrade()
	require.NoError(t, err)
	assert.NotSame(t, oldImpl, fresh.Impl())
	assert.Equal(t, oldImpl.ID(), fresh.Impl().ID())

	// Remove during the window fails: the service is live.
	_, err = p.Remove(ctx, "hello")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceLive))

	fresh.Drop()
	guard.Drop()
}

func TestPool_ColdUpdateOrCreate(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	// Create.
	svc, replaced, err := p.ColdUpdateOrCreate(ctx, "hello", nil, []byte(helloSrc), Config{})
	require.NoError(t, err)
	assert.Nil(t, replaced)
	_, running := svc.Running()
	assert.False(t, running, "created services start stopped")

	// Cold update of a running service restarts it.
	_, err = p.Start(ctx, "hello")
	require.NoError(t, err)
	svc, replaced, err = p.ColdUpdateOrCreate(ctx, "hello", nil, []byte(helloSrc), Config{})
	require.NoError(t, err)
	assert.NotNil(t, replaced)
	_, running = svc.Running()
	assert.True(t, running, "cold update preserves the running state")
}

func TestPool_StopAll(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		load(t, p, name, helloSrc)
		_, err := p.Start(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, p.StopAll(ctx))
	for _, name := range []string{"a", "b", "c"} {
		_, err := p.GetRunning(name)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeServiceStopped))
	}
}

func TestPool_ListIsSorted(t *testing.T) {
	p := newTestPool(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		load(t, p, name, helloSrc)
	}
	list := p.List()
	require.Len(t, list, 3)
	assert.Equal(t, Name("alpha"), list[0].Name())
	assert.Equal(t, Name("mid"), list[1].Name())
	assert.Equal(t, Name("zeta"), list[2].Name())
}

func TestPool_ConcurrentStopsRaceSafely(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	load(t, p, "hello", helloSrc)
	_, err := p.Start(ctx, "hello")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Stop(ctx, "hello"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one stop wins")
}

package sandbox

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hivepath "github.com/hack3ric/hive/internal/hive/path"
	"github.com/hack3ric/hive/internal/hive/permission"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := New(Options{LocalStoragePath: t.TempDir()})
	require.NoError(t, err)
	return sb
}

func newSpec(t *testing.T, name, src string, perms []string, patterns ...string) *ServiceSpec {
	t.Helper()
	if len(patterns) == 0 {
		patterns = []string{"/*"}
	}
	matchers := make([]*hivepath.Matcher, len(patterns))
	for i, p := range patterns {
		m, err := hivepath.NewMatcher(p)
		require.NoError(t, err)
		matchers[i] = m
	}
	set, err := permission.NewSet(perms)
	require.NoError(t, err)
	return &ServiceSpec{
		ID:          uuid.New(),
		Revision:    uuid.New(),
		Name:        name,
		Source:      []byte(src),
		Permissions: set,
		Matchers:    matchers,
	}
}

// drive polls a future to completion the way a worker loop would.
func drive(t *testing.T, fut *Future) (any, error) {
	t.Helper()
	wake := make(chan struct{}, 1)
	deadline := time.After(10 * time.Second)
	for {
		fut.SetWake(func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		v, err, ready := fut.Poll()
		if ready {
			return v, err
		}
		select {
		case <-wake:
		case <-deadline:
			t.Fatal("future did not complete")
		}
	}
}

func get(path string) *Request {
	return &Request{Method: "GET", Query: url.Values{}, Headers: map[string]string{}}
}

func TestHandleRequest_Hello(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "hello", `hive.register(function(req) { return "hi"; });`, nil)

	v, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)

	resp := v.(*Response)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "hi", string(resp.Body))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Headers["Content-Type"])
}

func TestHandleRequest_PathParams(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "users",
		`hive.register(function(req) { return req.params.id + ":" + req.params["*"]; });`,
		nil, "/users/:id/*")

	v, err := drive(t, sb.HandleRequest(spec, "/users/42/a/b", get("/users/42/a/b")))
	require.NoError(t, err)
	assert.Equal(t, "42:a/b", string(v.(*Response).Body))
}

func TestHandleRequest_PathNotFound(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "users",
		`hive.register(function(req) { return "ok"; });`,
		nil, "/users/:id")

	_, err := drive(t, sb.HandleRequest(spec, "/nope", get("/nope")))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeServicePathNotFound))
}

func TestHandleRequest_FirstMatcherWins(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "routes",
		`hive.register(function(req) { return req.params.x || req.params["*"]; });`,
		nil, "/:x", "/*")

	v, err := drive(t, sb.HandleRequest(spec, "/one", get("/one")))
	require.NoError(t, err)
	assert.Equal(t, "one", string(v.(*Response).Body))
}

func TestHandleRequest_ResponseDescriptor(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "api", `
hive.register(function(req) {
  return { status: 201, headers: { "X-Custom": "yes" }, body: { created: true } };
});`, nil)

	v, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)

	resp := v.(*Response)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "yes", resp.Headers["X-Custom"])
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.JSONEq(t, `{"created": true}`, string(resp.Body))
}

func TestHandleRequest_PlainObjectIsJSON(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "api", `hive.register(function(req) { return { a: 1 }; });`, nil)

	v, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)

	resp := v.(*Response)
	assert.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"a": 1}`, string(resp.Body))
}

func TestHandleRequest_ScriptCustomError(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "teapot", `
hive.register(function(req) {
  hive.error({ status: 418, message: "teapot", detail: { sugar: false } });
});`, nil)

	_, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 418, appErr.HTTPStatus)
	assert.Equal(t, "teapot", appErr.Message)
	assert.Equal(t, map[string]any{"sugar": false}, appErr.Detail)
}

func TestHandleRequest_CaughtAndRethrownErrorRoundTrips(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "rethrow", `
hive.register(function(req) {
  try {
    hive.error({ status: 418, message: "teapot" });
  } catch (e) {
    throw e;
  }
});`, nil)

	_, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 418, appErr.HTTPStatus)
	assert.Equal(t, "teapot", appErr.Message)
}

func TestHandleRequest_AsyncSleep(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "sleepy", `
hive.register(function(req) {
  return hive.sleep(10).then(function() { return "done"; });
});`, nil)

	v, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)
	assert.Equal(t, "done", string(v.(*Response).Body))
}

func TestHandleRequest_FetchWithoutPermission(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "fetchy",
		`hive.register(function(req) { return hive.fetch("http://example.com"); });`, nil)

	_, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionNotGranted))
}

func TestHandleRequest_StorageWithoutPermission(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "reader",
		`hive.register(function(req) { return hive.storage.read("x"); });`, nil)

	_, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionNotGranted))
}

func TestHandleRequest_StorageRoundTrip(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "store", `
hive.register(function(req) {
  if (req.method === "POST") {
    return hive.storage.write("notes/hello.txt", req.body).then(function() { return "saved"; });
  }
  return hive.storage.read("notes/hello.txt");
});`, []string{"fs:read", "fs:write"})

	post := &Request{Method: "POST", Query: url.Values{}, Headers: map[string]string{}, Body: []byte("remember me")}
	v, err := drive(t, sb.HandleRequest(spec, "/", post))
	require.NoError(t, err)
	assert.Equal(t, "saved", string(v.(*Response).Body))

	v, err = drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)
	assert.Equal(t, "remember me", string(v.(*Response).Body))
}

func TestHandleRequest_JSONBinding(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "echo", `
hive.register(function(req) {
  var parsed = json.parse(req.body);
  parsed.echoed = true;
  return { status: 200, headers: { "Content-Type": "application/json" }, body: json.stringify(parsed) };
});`, nil)

	post := &Request{Method: "POST", Query: url.Values{}, Headers: map[string]string{}, Body: []byte(`{"n": 3}`)}
	v, err := drive(t, sb.HandleRequest(spec, "/", post))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 3, "echoed": true}`, string(v.(*Response).Body))
}

func TestPreflight_SyntaxError(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "broken", `function (`, nil)

	_, err, ready := sb.Preflight(spec).Poll()
	require.True(t, ready)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeScriptError))
}

func TestPreflight_NoHandlerRegistered(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "lazy", `var x = 1;`, nil)

	_, err, ready := sb.Preflight(spec).Poll()
	require.True(t, ready)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeScriptError))
}

func TestEnsure_RecompilesOnRevisionChange(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "versioned", `hive.register(function(req) { return "v1"; });`, nil)

	v, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v.(*Response).Body))

	next := *spec
	next.Revision = uuid.New()
	next.Source = []byte(`hive.register(function(req) { return "v2"; });`)

	v, err = drive(t, sb.HandleRequest(&next, "/", get("/")))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v.(*Response).Body))
	assert.Equal(t, 1, sb.CachedServices())
}

func TestCleanup_PrunesIdleServices(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "idle", `hive.register(function(req) { return "ok"; });`, nil)

	_, err := drive(t, sb.HandleRequest(spec, "/", get("/")))
	require.NoError(t, err)
	require.Equal(t, 1, sb.CachedServices())

	sb.Cleanup(0)
	assert.Equal(t, 0, sb.CachedServices())
}

func TestTopLevelAsyncCallIsRejected(t *testing.T) {
	sb := newTestSandbox(t)
	spec := newSpec(t, "eager", `
hive.sleep(1);
hive.register(function(req) { return "ok"; });`, nil)

	_, err, ready := sb.Preflight(spec).Poll()
	require.True(t, ready)
	assert.Error(t, err)
}

package sandbox

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"

	hivepath "github.com/hack3ric/hive/internal/hive/path"
	"github.com/hack3ric/hive/internal/hive/permission"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/worker"
)

// errTagKey marks the error objects that cross the script boundary. Scripts
// may catch and re-raise them; the tag lets fromErrorValue recover the
// original payload either way.
const errTagKey = "__hive_error"

const fetchBodyLimit = 8 << 20

func errObject(e *apperrors.AppError) map[string]any {
	return map[string]any{
		errTagKey: true,
		"code":    e.Code,
		"status":  e.HTTPStatus,
		"message": e.Message,
		"detail":  e.Detail,
	}
}

// throw raises an AppError into the interpreter as a JS exception.
func (sb *Sandbox) throw(e *apperrors.AppError) {
	panic(sb.vm.ToValue(errObject(e)))
}

// installGlobals registers the shared, service-independent helpers.
func (sb *Sandbox) installGlobals() error {
	if err := sb.vm.Set("json", sb.jsonObject()); err != nil {
		return err
	}
	return sb.vm.Set("uri", sb.uriObject())
}

func (sb *Sandbox) jsonObject() *goja.Object {
	vm := sb.vm
	obj := vm.NewObject()

	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		var out any
		if err := jsonAPI.Unmarshal([]byte(call.Argument(0).String()), &out); err != nil {
			sb.throw(apperrors.ScriptCustom(400, "json.parse: "+err.Error(), nil))
		}
		return vm.ToValue(out)
	})

	_ = obj.Set("stringify", func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0).Export()
		var (
			encoded []byte
			err     error
		)
		if call.Argument(1).ToBoolean() {
			encoded, err = jsonAPI.MarshalIndent(v, "", "  ")
		} else {
			encoded, err = jsonAPI.Marshal(v)
		}
		if err != nil {
			sb.throw(apperrors.ScriptCustom(500, "json.stringify: "+err.Error(), nil))
		}
		return vm.ToValue(string(encoded))
	})

	return obj
}

func (sb *Sandbox) uriObject() *goja.Object {
	vm := sb.vm
	obj := vm.NewObject()

	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		raw := call.Argument(0).String()
		u, err := url.Parse(raw)
		if err != nil {
			sb.throw(apperrors.ScriptCustom(400, "uri.parse: "+err.Error(), nil))
		}
		query := map[string]string{}
		for k, vs := range u.Query() {
			if len(vs) > 0 {
				query[k] = vs[0]
			}
		}
		return vm.ToValue(map[string]any{
			"scheme":       u.Scheme,
			"host":         u.Hostname(),
			"port":         u.Port(),
			"path":         u.Path,
			"query":        query,
			"query_string": u.RawQuery,
			"fragment":     u.Fragment,
			"raw":          u.String(),
		})
	})

	_ = obj.Set("encode", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(url.QueryEscape(call.Argument(0).String()))
	})

	_ = obj.Set("decode", func(call goja.FunctionCall) goja.Value {
		s, err := url.QueryUnescape(call.Argument(0).String())
		if err != nil {
			sb.throw(apperrors.ScriptCustom(400, "uri.decode: "+err.Error(), nil))
		}
		return vm.ToValue(s)
	})

	return obj
}

// hiveObject builds the per-service "hive" namespace the source is
// evaluated against: registration, error raising and the permission-gated
// host calls.
func (sb *Sandbox) hiveObject(spec *ServiceSpec, ls *localService) *goja.Object {
	vm := sb.vm
	obj := vm.NewObject()

	_ = obj.Set("name", spec.Name)
	_ = obj.Set("config", spec.UserConfig)
	_ = obj.Set("permissions", spec.Permissions.List())

	_ = obj.Set("register", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			sb.throw(apperrors.ScriptCustom(500, "hive.register expects a function", nil))
		}
		ls.handler = fn
		return goja.Undefined()
	})

	_ = obj.Set("error", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0).Export()
		switch v := arg.(type) {
		case string:
			sb.throw(apperrors.ScriptCustom(500, v, nil))
		case map[string]any:
			status := 500
			switch s := v["status"].(type) {
			case int:
				status = s
			case int64:
				status = int(s)
			case float64:
				status = int(s)
			}
			message, _ := v["message"].(string)
			sb.throw(apperrors.ScriptCustom(status, message, v["detail"]))
		default:
			sb.throw(apperrors.ScriptCustom(500, "service error", arg))
		}
		return goja.Undefined()
	})

	_ = obj.Set("sleep", sb.fnSleep())
	_ = obj.Set("fetch", sb.fnFetch(spec))
	_ = obj.Set("storage", sb.storageObject(spec))

	return obj
}

// pending prepares an async host call: a promise for the script and the
// future whose job queue will resume it. Throws outside a request, where no
// task future exists to resume.
func (sb *Sandbox) pending(what string) (*goja.Promise, func(any) error, func(any) error, *Future) {
	fut := sb.current
	if fut == nil {
		sb.throw(apperrors.ScriptCustom(500, what+" is only available inside a request handler", nil))
	}
	p, resolve, reject := sb.vm.NewPromise()
	return p, resolve, reject, fut
}

// resume schedules a settle closure onto the future's job queue. The
// closure runs on the worker thread with sb.current restored so nested
// async calls attach to the same task.
func (sb *Sandbox) resume(fut *Future, settle func()) {
	fut.Enqueue(func() {
		sb.current = fut
		defer func() { sb.current = nil }()
		settle()
	})
}

func (sb *Sandbox) fnSleep() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		if ms < 0 {
			ms = 0
		}
		p, resolve, _, fut := sb.pending("hive.sleep")
		time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			sb.resume(fut, func() { resolve(goja.Undefined()) })
		})
		return sb.vm.ToValue(p)
	}
}

func (sb *Sandbox) fnFetch(spec *ServiceSpec) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !spec.Permissions.Contains(permission.NetFetch) {
			sb.throw(apperrors.PermissionNotGranted(permission.NetFetch.String()))
		}

		target := call.Argument(0).String()
		method := http.MethodGet
		var body []byte
		headers := map[string]string{}
		if opts, ok := call.Argument(1).Export().(map[string]any); ok {
			if m, ok := opts["method"].(string); ok && m != "" {
				method = m
			}
			if b, ok := opts["body"].(string); ok {
				body = []byte(b)
			}
			if hs, ok := opts["headers"].(map[string]any); ok {
				for k, v := range hs {
					if s, ok := v.(string); ok {
						headers[k] = s
					}
				}
			}
		}

		p, resolve, reject, fut := sb.pending("hive.fetch")
		sb.submitIO(func(ctx context.Context) {
			req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
			if err != nil {
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(400, "fetch: "+err.Error(), nil))) })
				return
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}

			resp, err := sb.client.Do(req)
			if err != nil {
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(502, "fetch: "+err.Error(), nil))) })
				return
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
			if err != nil {
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(502, "fetch: "+err.Error(), nil))) })
				return
			}

			respHeaders := map[string]string{}
			for k := range resp.Header {
				respHeaders[k] = resp.Header.Get(k)
			}
			result := map[string]any{
				"status":  resp.StatusCode,
				"headers": respHeaders,
				"body":    string(data),
			}
			sb.resume(fut, func() { resolve(result) })
		})
		return sb.vm.ToValue(p)
	}
}

func (sb *Sandbox) storageObject(spec *ServiceSpec) *goja.Object {
	vm := sb.vm
	obj := vm.NewObject()

	_ = obj.Set("read", func(call goja.FunctionCall) goja.Value {
		if !spec.Permissions.Contains(permission.FsRead) {
			sb.throw(apperrors.PermissionNotGranted(permission.FsRead.String()))
		}
		target := sb.storagePath(spec, call.Argument(0).String())
		p, resolve, reject, fut := sb.pending("hive.storage.read")
		sb.submitIO(func(ctx context.Context) {
			data, err := os.ReadFile(target)
			if err != nil {
				status := 500
				if os.IsNotExist(err) {
					status = 404
				}
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(status, "storage.read: "+err.Error(), nil))) })
				return
			}
			sb.resume(fut, func() { resolve(string(data)) })
		})
		return vm.ToValue(p)
	})

	_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
		if !spec.Permissions.Contains(permission.FsWrite) {
			sb.throw(apperrors.PermissionNotGranted(permission.FsWrite.String()))
		}
		target := sb.storagePath(spec, call.Argument(0).String())
		data := []byte(call.Argument(1).String())
		p, resolve, reject, fut := sb.pending("hive.storage.write")
		sb.submitIO(func(ctx context.Context) {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(500, "storage.write: "+err.Error(), nil))) })
				return
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				sb.resume(fut, func() { reject(errObject(apperrors.ScriptCustom(500, "storage.write: "+err.Error(), nil))) })
				return
			}
			sb.resume(fut, func() { resolve(goja.Undefined()) })
		})
		return vm.ToValue(p)
	})

	return obj
}

// storagePath confines a script-supplied path below the service's private
// storage root.
func (sb *Sandbox) storagePath(spec *ServiceSpec, raw string) string {
	clean := hivepath.NormalizeSlashPath(raw)
	return filepath.Join(sb.opts.LocalStoragePath, spec.Name, filepath.FromSlash(clean))
}

// submitIO runs a blocking host call on the outer IO pool, falling back to
// a plain goroutine when the sandbox is embedded without pools (tests).
func (sb *Sandbox) submitIO(fn worker.Task) {
	if sb.opts.Pools != nil {
		if err := sb.opts.Pools.IO.Submit(context.Background(), fn); err == nil {
			return
		}
	}
	go fn(context.Background())
}

package sandbox

import (
	"net/url"

	"github.com/dop251/goja"

	hivepath "github.com/hack3ric/hive/internal/hive/path"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// Request is the transport-neutral view of an HTTP request handed to a
// script handler. The HTTP layer builds one per dispatch; the sandbox
// converts it into a script object on the worker thread.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Response is what a script handler produces.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

func (sb *Sandbox) requestValue(req *Request, params hivepath.Params) goja.Value {
	vm := sb.vm

	obj := vm.NewObject()
	_ = obj.Set("method", req.Method)
	_ = obj.Set("path", req.Path)
	_ = obj.Set("body", string(req.Body))

	paramsObj := vm.NewObject()
	for k, v := range params {
		_ = paramsObj.Set(k, v)
	}
	_ = obj.Set("params", paramsObj)

	queryObj := vm.NewObject()
	for k, vs := range req.Query {
		if len(vs) > 0 {
			_ = queryObj.Set(k, vs[0])
		}
	}
	_ = obj.Set("query", queryObj)

	headersObj := vm.NewObject()
	for k, v := range req.Headers {
		_ = headersObj.Set(k, v)
	}
	_ = obj.Set("headers", headersObj)

	return obj
}

// toResponse converts a script handler's return value. Worker thread only.
func (sb *Sandbox) toResponse(v goja.Value) (*Response, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &Response{Status: 204, Headers: map[string]string{}}, nil
	}

	switch exported := v.Export().(type) {
	case string:
		return textResponse(200, exported), nil
	case goja.ArrayBuffer:
		return &Response{
			Status:  200,
			Headers: map[string]string{"Content-Type": "application/octet-stream"},
			Body:    exported.Bytes(),
		}, nil
	case map[string]any:
		if isResponseShape(exported) {
			return sb.descriptorResponse(exported)
		}
	}

	// Anything else serializes as a JSON body.
	body, err := jsonAPI.Marshal(v.Export())
	if err != nil {
		return nil, apperrors.ScriptError(err)
	}
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// isResponseShape distinguishes a response descriptor from a plain JSON
// object: a numeric "status" field marks the descriptor.
func isResponseShape(m map[string]any) bool {
	switch m["status"].(type) {
	case int, int64, float64:
		return true
	}
	return false
}

func (sb *Sandbox) descriptorResponse(m map[string]any) (*Response, error) {
	resp := &Response{Status: 200, Headers: map[string]string{}}

	switch s := m["status"].(type) {
	case int:
		resp.Status = s
	case int64:
		resp.Status = int(s)
	case float64:
		resp.Status = int(s)
	}
	if resp.Status < 100 || resp.Status > 599 {
		return nil, apperrors.ScriptCustom(500, "script returned invalid status", m["status"])
	}

	if hdrs, ok := m["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				resp.Headers[k] = s
			}
		}
	}

	switch body := m["body"].(type) {
	case nil:
	case string:
		resp.Body = []byte(body)
		if _, ok := resp.Headers["Content-Type"]; !ok {
			resp.Headers["Content-Type"] = "text/plain; charset=utf-8"
		}
	case goja.ArrayBuffer:
		resp.Body = body.Bytes()
		if _, ok := resp.Headers["Content-Type"]; !ok {
			resp.Headers["Content-Type"] = "application/octet-stream"
		}
	default:
		encoded, err := jsonAPI.Marshal(body)
		if err != nil {
			return nil, apperrors.ScriptError(err)
		}
		resp.Body = encoded
		if _, ok := resp.Headers["Content-Type"]; !ok {
			resp.Headers["Content-Type"] = "application/json"
		}
	}

	return resp, nil
}

func textResponse(status int, body string) *Response {
	return &Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:    []byte(body),
	}
}

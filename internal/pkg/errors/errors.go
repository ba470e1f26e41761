// Package errors provides domain-specific error types for hive.
//
// The service and script errors the core surfaces are *AppError values
// carrying a machine-readable code, a human-readable message and the HTTP
// status the frontend should render. Name and lifecycle validation failures
// are cheap and carry no stack; the other AppErrors record the stack at
// construction. Sandbox pool failures are the plain sentinel errors below.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Sentinel errors for common failure scenarios.
var (
	ErrPoolUnavailable = errors.New("all sandbox workers are unavailable")
	ErrExecutorClosed  = errors.New("sandbox worker is closed")
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "SERVICE_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Detail carries an optional structured payload, used by script-raised
	// errors to round-trip arbitrary JSON values.
	Detail any `json:"detail,omitempty"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`

	// Stack is the stack captured at construction, empty for validation
	// errors.
	Stack []byte `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with a captured stack.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Stack:      debug.Stack(),
	}
}

// Wrap wraps an existing error into an AppError with a captured stack.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
		Stack:      debug.Stack(),
	}
}

// validation creates an AppError without a stack. Name and state checks are
// expected failures on the hot path and should stay allocation-light.
func validation(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// InvalidServiceName reports a name that fails the service name grammar.
func InvalidServiceName(name string) *AppError {
	return validation(CodeInvalidServiceName,
		fmt.Sprintf("invalid service name: %q", name), http.StatusBadRequest)
}

// ServiceNotFound reports a name with no service registered.
func ServiceNotFound(name string) *AppError {
	return validation(CodeServiceNotFound,
		fmt.Sprintf("service %q not found", name), http.StatusNotFound)
}

// ServicePathNotFound reports a sub-path no route pattern of the service
// matches.
func ServicePathNotFound(service, path string) *AppError {
	return validation(CodeServicePathNotFound,
		fmt.Sprintf("path not found in service %q: %s", service, path), http.StatusNotFound)
}

// ServiceExists reports a create against an already registered name.
func ServiceExists(name string) *AppError {
	return validation(CodeServiceExists,
		fmt.Sprintf("service %q already exists", name), http.StatusConflict)
}

// ServiceLive reports an operation that requires a stopped service.
func ServiceLive(name string) *AppError {
	return validation(CodeServiceLive,
		fmt.Sprintf("service %q is still live", name), http.StatusConflict)
}

// ServiceStopped reports an operation that requires a running service.
func ServiceStopped(name string) *AppError {
	return validation(CodeServiceStopped,
		fmt.Sprintf("service %q is stopped", name), http.StatusConflict)
}

// ServiceDropped reports access to a service whose body has been removed.
func ServiceDropped() *AppError {
	return validation(CodeServiceDropped, "service is dropped", http.StatusGone)
}

// PermissionNotGranted reports a script host call missing a declared
// permission.
func PermissionNotGranted(perm string) *AppError {
	return New(CodePermissionNotGranted,
		fmt.Sprintf("permission %q not granted", perm), http.StatusForbidden)
}

// ScriptError wraps an opaque script-runtime failure.
func ScriptError(err error) *AppError {
	return Wrap(err, CodeScriptError, "script execution failed", http.StatusInternalServerError)
}

// ScriptCustom builds the error payload scripts raise through hive.error.
// The status, message and detail cross the sandbox boundary unchanged so a
// script can catch and re-raise them without loss.
func ScriptCustom(status int, message string, detail any) *AppError {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	e := New(CodeScriptCustom, message, status)
	e.Detail = detail
	return e
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

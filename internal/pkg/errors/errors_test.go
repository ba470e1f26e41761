package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorsCarryNoStack(t *testing.T) {
	for _, err := range []*AppError{
		InvalidServiceName("bad name!"),
		ServiceNotFound("x"),
		ServicePathNotFound("x", "/y"),
		ServiceExists("x"),
		ServiceLive("x"),
		ServiceStopped("x"),
		ServiceDropped(),
	} {
		assert.Empty(t, err.Stack, "%s should not capture a stack", err.Code)
	}
}

func TestOtherErrorsCaptureStack(t *testing.T) {
	for _, err := range []*AppError{
		PermissionNotGranted("net:fetch"),
		ScriptError(errors.New("boom")),
		ScriptCustom(500, "boom", nil),
		New(CodeInternal, "x", http.StatusInternalServerError),
	} {
		assert.NotEmpty(t, err.Stack, "%s should capture a stack", err.Code)
	}
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, InvalidServiceName("!").HTTPStatus)
	assert.Equal(t, http.StatusNotFound, ServiceNotFound("x").HTTPStatus)
	assert.Equal(t, http.StatusNotFound, ServicePathNotFound("x", "/").HTTPStatus)
	assert.Equal(t, http.StatusConflict, ServiceExists("x").HTTPStatus)
	assert.Equal(t, http.StatusConflict, ServiceLive("x").HTTPStatus)
	assert.Equal(t, http.StatusConflict, ServiceStopped("x").HTTPStatus)
	assert.Equal(t, http.StatusGone, ServiceDropped().HTTPStatus)
	assert.Equal(t, http.StatusForbidden, PermissionNotGranted("fs:read").HTTPStatus)
}

func TestScriptCustomClampsStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, ScriptCustom(42, "x", nil).HTTPStatus)
	assert.Equal(t, 418, ScriptCustom(418, "x", nil).HTTPStatus)
}

func TestWrapAndUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(inner, CodeScriptError, "outer", http.StatusInternalServerError)

	assert.ErrorIs(t, err, inner)

	appErr, ok := IsAppError(fmt.Errorf("wrapped again: %w", err))
	assert.True(t, ok)
	assert.Equal(t, CodeScriptError, appErr.Code)

	assert.True(t, HasCode(err, CodeScriptError))
	assert.False(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(inner, CodeScriptError))
}

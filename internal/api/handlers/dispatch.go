package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hack3ric/hive/internal/hive/sandbox"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// requestBodyLimit bounds the body handed to a script handler.
const requestBodyLimit = 8 << 20

// Dispatch routes any path outside the management API to the service named
// by the first segment: /<service>/<sub-path>. Mounted as the NoRoute
// handler.
func (s *Server) Dispatch(c *gin.Context) {
	name, subPath := splitServicePath(c.Request.URL.Path)
	if name == "" {
		_ = c.Error(apperrors.New(apperrors.CodeServiceNotFound,
			"hive path not found", http.StatusNotFound))
		return
	}

	rs, err := s.hive.GetRunningService(name)
	if err != nil {
		_ = c.Error(err)
		return
	}

	// The guard pins the body for the whole request: a stop or hot update
	// racing with us waits for (or skips) this in-flight request.
	guard, err := rs.TryUpgrade()
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer guard.Drop()

	req, err := toSandboxRequest(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.hive.RunService(c.Request.Context(), guard, subPath, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	writeResponse(c, resp)
}

// splitServicePath splits "/name/sub/path" into ("name", "/sub/path").
func splitServicePath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, _ := strings.Cut(trimmed, "/")
	return name, "/" + rest
}

func toSandboxRequest(c *gin.Context) (*sandbox.Request, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, requestBodyLimit))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"read request body", http.StatusBadRequest)
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	return &sandbox.Request{
		Method:  c.Request.Method,
		Query:   c.Request.URL.Query(),
		Headers: headers,
		Body:    body,
	}, nil
}

func writeResponse(c *gin.Context, resp *sandbox.Response) {
	contentType := resp.Headers["Content-Type"]
	for k, v := range resp.Headers {
		if k == "Content-Type" {
			continue
		}
		c.Writer.Header().Set(k, v)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.Status, contentType, resp.Body)
}

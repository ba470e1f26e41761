package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hack3ric/hive/internal/hive/service"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/logger"
	"github.com/hack3ric/hive/internal/source"
)

// uploadLimit bounds a single source or config upload.
const uploadLimit = 4 << 20

// ListServices handles GET /services.
func (s *Server) ListServices(c *gin.Context) {
	services := s.hive.ListServices()
	out := make([]gin.H, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceView(svc))
	}
	c.JSON(http.StatusOK, out)
}

// GetService handles GET /services/:name.
func (s *Server) GetService(c *gin.Context) {
	svc, err := s.hive.GetService(c.Param("name"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, serviceView(svc))
}

// CreateService handles POST /services: upload a new service bundle. The
// service registers stopped; PATCH starts it.
func (s *Server) CreateService(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		name = c.Query("name")
	}

	up, err := readUpload(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if _, err := s.hive.GetService(name); err == nil {
		_ = c.Error(apperrors.ServiceExists(name))
		return
	}

	cfg, err := service.ParseConfig(up.config)
	if err != nil {
		_ = c.Error(err)
		return
	}

	impl, _, err := s.hive.LoadService(c.Request.Context(), name, nil, up.script, cfg)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := s.persist(c, name, up, source.Metadata{ID: impl.ID(), Started: false}); err != nil {
		_, _ = s.hive.RemoveService(c.Request.Context(), name)
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"new_service": impl})
}

// UpdateService handles PUT /services/:name. Default is a cold update
// (stop, replace, restart when it was running); ?mode=hot swaps the body of
// a running service without dropping in-flight requests.
func (s *Server) UpdateService(c *gin.Context) {
	name := c.Param("name")

	up, err := readUpload(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	cfg, err := service.ParseConfig(up.config)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if c.Query("mode") == "hot" {
		replaced, err := s.hive.HotUpdateService(c.Request.Context(), name, up.script, cfg)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := s.persist(c, name, up, source.Metadata{ID: replaced.ID(), Started: true}); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"replaced_service": replaced})
		return
	}

	svc, replaced, err := s.hive.ColdUpdateOrCreateService(c.Request.Context(), name, nil, up.script, cfg)
	if err != nil {
		_ = c.Error(err)
		return
	}

	_, started := svc.Running()
	if err := s.persist(c, name, up, source.Metadata{ID: implOf(svc).ID(), Started: started}); err != nil {
		_ = c.Error(err)
		return
	}

	resp := gin.H{"new_service": serviceView(svc)}
	if replaced != nil {
		resp["replaced_service"] = replaced
	}
	c.JSON(http.StatusOK, resp)
}

// StartStopService handles PATCH /services/:name?op=start|stop.
func (s *Server) StartStopService(c *gin.Context) {
	name := c.Param("name")
	dir := s.loader.ServiceDir(name).Dir()

	switch c.Query("op") {
	case "start":
		rs, err := s.hive.StartService(c.Request.Context(), name)
		if err != nil {
			_ = c.Error(err)
			return
		}
		s.modifyMetadata(dir, func(m *source.Metadata) { m.Started = true })
		c.JSON(http.StatusOK, gin.H{"started": rs.Impl()})

	case "stop":
		impl, err := s.hive.StopService(c.Request.Context(), name)
		if err != nil {
			_ = c.Error(err)
			return
		}
		s.modifyMetadata(dir, func(m *source.Metadata) { m.Started = false })
		c.JSON(http.StatusOK, gin.H{"stopped": impl})

	default:
		_ = c.Error(apperrors.New(apperrors.CodeInvalidRequest,
			"op must be start or stop", http.StatusBadRequest))
	}
}

// RemoveService handles DELETE /services/:name. Only stopped services can
// be removed; the source directory goes with them.
func (s *Server) RemoveService(c *gin.Context) {
	name := c.Param("name")
	impl, err := s.hive.RemoveService(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := s.loader.ServiceDir(name).Remove(); err != nil {
		logger.Warn("remove service dir failed",
			zap.String("service", name), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"removed_service": impl})
}

type upload struct {
	script []byte
	config []byte
}

// readUpload accepts either a multipart form ("source" file plus optional
// "config" file) or a raw script body.
func readUpload(c *gin.Context) (upload, error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/") {
		script, err := formFile(c, "source")
		if err != nil {
			return upload{}, err
		}
		if script == nil {
			return upload{}, apperrors.New(apperrors.CodeInvalidRequest,
				"missing source file", http.StatusBadRequest)
		}
		cfg, err := formFile(c, "config")
		if err != nil {
			return upload{}, err
		}
		return upload{script: script, config: cfg}, nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, uploadLimit))
	if err != nil {
		return upload{}, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"read upload body", http.StatusBadRequest)
	}
	if len(body) == 0 {
		return upload{}, apperrors.New(apperrors.CodeInvalidRequest,
			"empty upload", http.StatusBadRequest)
	}
	return upload{script: body}, nil
}

func formFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"read multipart form", http.StatusBadRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"open uploaded file", http.StatusBadRequest)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, uploadLimit))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"read uploaded file", http.StatusBadRequest)
	}
	return data, nil
}

// persist writes the uploaded bundle and its metadata next to it. Runs on
// the request path so failures surface to the uploader.
func (s *Server) persist(c *gin.Context, name string, up upload, meta source.Metadata) error {
	dir := s.loader.ServiceDir(name)
	if err := dir.Write(up.script, up.config); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal,
			"persist service bundle", http.StatusInternalServerError)
	}
	if err := source.WriteMetadata(dir.Dir(), meta); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal,
			"persist service metadata", http.StatusInternalServerError)
	}
	return nil
}

// modifyMetadata updates metadata off the hot path; a failure is logged
// rather than failing a transition that already happened.
func (s *Server) modifyMetadata(dir string, fn func(*source.Metadata)) {
	if err := s.pools.SubmitDetached(func(_ context.Context) {
		if err := source.ModifyMetadata(dir, fn); err != nil {
			logger.Warn("modify service metadata failed",
				zap.String("dir", dir), zap.Error(err))
		}
	}); err != nil {
		logger.Warn("submit metadata update failed", zap.Error(err))
	}
}

func implOf(svc service.Service) *service.ServiceImpl {
	if rs, running := svc.Running(); running {
		return rs.Impl()
	}
	impl, _ := svc.Stopped()
	return impl
}

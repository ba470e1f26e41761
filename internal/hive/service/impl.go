package service

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	hivepath "github.com/hack3ric/hive/internal/hive/path"
	"github.com/hack3ric/hive/internal/hive/sandbox"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// ServiceImpl is the immutable body of a loaded service. The ID is stable
// across updates; the Revision changes with every load so worker-local
// compiled caches know when to recompile. Workers receive it through Spec
// and never mutate it.
type ServiceImpl struct {
	id       uuid.UUID
	revision uuid.UUID
	name     Name
	config   Config
	matchers []*hivepath.Matcher
	source   []byte
}

// newImpl compiles the config's route patterns and freezes the body.
func newImpl(id uuid.UUID, name Name, source []byte, cfg Config) (*ServiceImpl, error) {
	matchers := make([]*hivepath.Matcher, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		m, err := hivepath.NewMatcher(p)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInvalidPattern,
				"invalid path pattern: "+p, http.StatusBadRequest)
		}
		matchers = append(matchers, m)
	}
	return &ServiceImpl{
		id:       id,
		revision: uuid.New(),
		name:     name,
		config:   cfg,
		matchers: matchers,
		source:   source,
	}, nil
}

// ID returns the stable service identifier.
func (i *ServiceImpl) ID() uuid.UUID { return i.id }

// Revision returns the per-load body identifier.
func (i *ServiceImpl) Revision() uuid.UUID { return i.revision }

// Name returns the service name.
func (i *ServiceImpl) Name() Name { return i.name }

// Config returns the parsed manifest.
func (i *ServiceImpl) Config() Config { return i.config }

// Spec builds the worker-facing description of this body.
func (i *ServiceImpl) Spec() *sandbox.ServiceSpec {
	return &sandbox.ServiceSpec{
		ID:          i.id,
		Revision:    i.revision,
		Name:        string(i.name),
		Source:      i.source,
		Permissions: i.config.Permissions,
		Matchers:    i.matchers,
		UserConfig:  i.config.UserConfig,
	}
}

// MarshalJSON renders the body for the management API.
func (i *ServiceImpl) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          uuid.UUID            `json:"id"`
		Name        string               `json:"name"`
		Paths       []*hivepath.Matcher  `json:"paths"`
		Permissions []string             `json:"permissions"`
		Config      map[string]any       `json:"config,omitempty"`
	}{
		ID:          i.id,
		Name:        string(i.name),
		Paths:       i.matchers,
		Permissions: i.config.Permissions.List(),
		Config:      i.config.UserConfig,
	})
}

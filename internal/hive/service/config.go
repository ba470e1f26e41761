package service

import (
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/hack3ric/hive/internal/hive/permission"
	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// Config is the deserialized service manifest: declared permissions, route
// patterns in match order, and free-form user data handed to the script.
type Config struct {
	Permissions permission.Set `yaml:"permissions" json:"permissions"`
	Paths       []string       `yaml:"paths" json:"paths"`
	UserConfig  map[string]any `yaml:"config" json:"config,omitempty"`
}

// ParseConfig parses a YAML manifest. A missing manifest or empty path list
// yields a catch-all route.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, apperrors.Wrap(err, apperrors.CodeInvalidRequest,
				"invalid service config", http.StatusBadRequest)
		}
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"/*"}
	}
	return cfg, nil
}

// Package service implements the concurrent service registry and its
// lifecycle state machine.
package service

import (
	"regexp"

	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
)

// nameGrammar restricts service names to path-safe ASCII. The name doubles
// as the URL prefix and the storage directory, so the grammar stays narrow.
var nameGrammar = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Name is a validated service name.
type Name string

// NewName validates a raw name.
func NewName(raw string) (Name, error) {
	if !nameGrammar.MatchString(raw) {
		return "", apperrors.InvalidServiceName(raw)
	}
	return Name(raw), nil
}

func (n Name) String() string { return string(n) }

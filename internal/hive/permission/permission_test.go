package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewSet(t *testing.T) {
	s, err := NewSet([]string{"fs:read", "net:fetch"})
	require.NoError(t, err)

	assert.True(t, s.Contains(FsRead))
	assert.True(t, s.Contains(NetFetch))
	assert.False(t, s.Contains(FsWrite))
	assert.Equal(t, []string{"fs:read", "net:fetch"}, s.List())
}

func TestNewSet_UnknownPermission(t *testing.T) {
	_, err := NewSet([]string{"fs:read", "gpu:mine"})
	assert.Error(t, err)
}

func TestSet_YAML(t *testing.T) {
	var s Set
	require.NoError(t, yaml.Unmarshal([]byte("[fs:read, fs:write]"), &s))
	assert.True(t, s.Contains(FsRead))
	assert.True(t, s.Contains(FsWrite))

	var bad Set
	assert.Error(t, yaml.Unmarshal([]byte("[nope]"), &bad))
}

func TestEmptySet(t *testing.T) {
	var s Set
	assert.False(t, s.Contains(FsRead))
	assert.Empty(t, s.List())
}

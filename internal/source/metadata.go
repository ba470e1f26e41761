package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Metadata is the per-service state the server persists next to the
// source so services survive restarts with their identity and desired
// lifecycle state.
type Metadata struct {
	ID      uuid.UUID `json:"uuid"`
	Started bool      `json:"started"`
}

// ReadMetadata loads a service directory's metadata file.
func ReadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// WriteMetadata persists metadata atomically via rename.
func WriteMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	target := filepath.Join(dir, MetadataFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}

// ModifyMetadata applies fn to the stored metadata and writes it back.
func ModifyMetadata(dir string, fn func(*Metadata)) error {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return err
	}
	fn(&meta)
	return WriteMetadata(dir, meta)
}

package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MetadataFileName is the sidecar external recovery tools read.
const MetadataFileName = "metadata.json"

// Metadata is the processor identity record, written once at creation.
type Metadata struct {
	Mode          string `json:"mode"`
	ContainerType Type   `json:"containerType"`
	ContainerID   ID     `json:"containerId"`
	CreatedAt     string `json:"createdAt"`
}

// NewMetadata stamps a record with the current time.
func NewMetadata(mode string, containerType Type, containerID ID) Metadata {
	return Metadata{
		Mode:          mode,
		ContainerType: containerType,
		ContainerID:   containerID,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// MetadataFile stores the metadata record at <dataPath>/metadata.json.
// Writes are atomic: tmp file, fsync, rename.
type MetadataFile struct {
	mu   sync.Mutex
	path string
}

// NewMetadataFile writes the record and returns the handle.
func NewMetadataFile(dataPath string, md Metadata) (*MetadataFile, error) {
	m := &MetadataFile{path: filepath.Join(dataPath, MetadataFileName)}
	if err := m.Write(md); err != nil {
		return nil, err
	}
	return m, nil
}

// Write replaces the stored record atomically.
func (m *MetadataFile) Write(md Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Flush is implicit per write.
func (m *MetadataFile) Flush() error { return nil }

// Close releases nothing; writes open and close their own handle.
func (m *MetadataFile) Close() error { return nil }

// Cleanup deletes the file. Missing file is not an error.
func (m *MetadataFile) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadMetadata loads the record from a DataPath. Used by external tools
// (and the offline replayer) to interpret on-disk artifacts.
func ReadMetadata(dataPath string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dataPath, MetadataFileName))
	if err != nil {
		return Metadata{}, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, fmt.Errorf("parse %s: %w", MetadataFileName, err)
	}
	return md, nil
}

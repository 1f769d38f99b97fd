package container

import (
	"io"
	"os"
	"path/filepath"

	"github.com/fluxorio/runlog/pkg/core"
)

// UploadDirName is the staged-blob directory inside a DataPath.
const UploadDirName = "upload_path"

// OperationStorage is a thin handle on the staged-blob directory. Directory
// operations are not internally locked; callers stage distinct filenames.
type OperationStorage struct {
	dir string
}

// NewOperationStorage creates <dataPath>/upload_path.
func NewOperationStorage(dataPath string) (*OperationStorage, error) {
	dir := filepath.Join(dataPath, UploadDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &OperationStorage{dir: dir}, nil
}

// UploadPath returns the staging directory.
func (s *OperationStorage) UploadPath() string { return s.dir }

// Store copies a stream into the staging directory under name and returns
// name as the reference an upload operation embeds.
func (s *OperationStorage) Store(name string, r io.Reader) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", core.Errorc("INVALID_INPUT", "blob name %q must be a bare filename", name)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// Flush is a no-op for a plain directory.
func (s *OperationStorage) Flush() error { return nil }

// Close releases nothing; the handle holds no descriptors between calls.
func (s *OperationStorage) Close() error { return nil }

// Cleanup removes the staging directory and its contents.
func (s *OperationStorage) Cleanup() error {
	if err := os.RemoveAll(s.dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Package container holds the identity model and per-processor disk layout:
// which directory a processor owns, the staged-blob area inside it and the
// metadata sidecar external tools read to interpret the artifacts.
package container

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fluxorio/runlog/pkg/core"
)

// ID is an opaque ASCII identifier of the logical experiment/run.
type ID string

// Type enumerates the kinds of containers operations can target.
type Type string

const (
	TypeRun          Type = "run"
	TypeProject      Type = "project"
	TypeModel        Type = "model"
	TypeModelVersion Type = "model_version"
)

// Valid reports whether t is a known container type.
func (t Type) Valid() bool {
	switch t {
	case TypeRun, TypeProject, TypeModel, TypeModelVersion:
		return true
	}
	return false
}

const (
	// EnvDataDirectory overrides the on-disk root.
	EnvDataDirectory = "NEPTUNE_DATA_DIRECTORY"

	// DefaultDataDirectory is the root used when nothing is configured.
	DefaultDataDirectory = ".neptune"
)

// ResolveRoot picks the data root: explicit value, then environment,
// then the default.
func ResolveRoot(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(EnvDataDirectory); env != "" {
		return env
	}
	return DefaultDataDirectory
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix returns the 8-character lowercase alphanumeric suffix that,
// together with the pid, keeps concurrent processors for the same container
// from colliding on disk.
func RandomSuffix() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}

// DataPath builds the per-processor directory
// <root>/<mode>/<containerType>__<containerId>__<pid>__<rand8>.
// The directory is not created; see MakeDataPath.
func DataPath(root, mode string, containerType Type, containerID ID) string {
	leaf := string(containerType) + "__" + string(containerID) + "__" +
		strconv.Itoa(os.Getpid()) + "__" + RandomSuffix()
	return filepath.Join(root, mode, leaf)
}

// MakeDataPath builds the processor directory and creates it with parents.
func MakeDataPath(root, mode string, containerType Type, containerID ID) (string, error) {
	if !containerType.Valid() {
		return "", core.Errorc("INVALID_INPUT", "unknown container type %q", containerType)
	}
	path := DataPath(root, mode, containerType, containerID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

package container

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSuffix(t *testing.T) {
	re := regexp.MustCompile(`^[a-z0-9]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := RandomSuffix()
		require.Regexp(t, re, s)
		seen[s] = true
	}
	// Collisions in 100 draws from 36^8 would mean a broken generator.
	assert.Greater(t, len(seen), 90)
}

func TestDataPathLayout(t *testing.T) {
	root := t.TempDir()
	path, err := MakeDataPath(root, "offline", TypeRun, ID("abcd-1234"))
	require.NoError(t, err)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	rel, err := filepath.Rel(root, path)
	require.NoError(t, err)
	parts := strings.Split(rel, string(filepath.Separator))
	require.Len(t, parts, 2)
	assert.Equal(t, "offline", parts[0])

	fields := strings.Split(parts[1], "__")
	require.Len(t, fields, 4)
	assert.Equal(t, "run", fields[0])
	assert.Equal(t, "abcd-1234", fields[1])
	assert.Equal(t, strconv.Itoa(os.Getpid()), fields[2])
	assert.Regexp(t, `^[a-z0-9]{8}$`, fields[3])
}

func TestMakeDataPathRejectsUnknownType(t *testing.T) {
	_, err := MakeDataPath(t.TempDir(), "sync", Type("experiment"), ID("x"))
	require.Error(t, err)
}

func TestDataPathsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	a, err := MakeDataPath(root, "async", TypeRun, ID("same"))
	require.NoError(t, err)
	b, err := MakeDataPath(root, "async", TypeRun, ID("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestResolveRoot(t *testing.T) {
	assert.Equal(t, "/explicit", ResolveRoot("/explicit"))

	t.Setenv(EnvDataDirectory, "/from-env")
	assert.Equal(t, "/from-env", ResolveRoot(""))

	t.Setenv(EnvDataDirectory, "")
	assert.Equal(t, DefaultDataDirectory, ResolveRoot(""))
}

func TestOperationStorageStore(t *testing.T) {
	dataPath := t.TempDir()
	s, err := NewOperationStorage(dataPath)
	require.NoError(t, err)

	ref, err := s.Store("weights.bin", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "weights.bin", ref)

	data, err := os.ReadFile(filepath.Join(s.UploadPath(), ref))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = s.Store("../escape", strings.NewReader("x"))
	require.Error(t, err)
}

func TestOperationStorageCleanup(t *testing.T) {
	s, err := NewOperationStorage(t.TempDir())
	require.NoError(t, err)
	_, err = s.Store("a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	require.NoError(t, s.Cleanup())
	_, err = os.Stat(s.UploadPath())
	assert.True(t, os.IsNotExist(err))

	// Cleaning an already-cleaned directory is a no-op.
	require.NoError(t, s.Cleanup())
}

func TestMetadataFileRoundTrip(t *testing.T) {
	dataPath := t.TempDir()
	md := NewMetadata("offline", TypeRun, ID("r-1"))
	m, err := NewMetadataFile(dataPath, md)
	require.NoError(t, err)

	got, err := ReadMetadata(dataPath)
	require.NoError(t, err)
	assert.Equal(t, md, got)
	assert.Equal(t, "offline", got.Mode)
	assert.Equal(t, TypeRun, got.ContainerType)

	require.NoError(t, m.Cleanup())
	_, err = ReadMetadata(dataPath)
	require.Error(t, err)
	require.NoError(t, m.Cleanup())
}

func TestMetadataWriteIsAtomic(t *testing.T) {
	dataPath := t.TempDir()
	_, err := NewMetadataFile(dataPath, NewMetadata("async", TypeModel, ID("m-1")))
	require.NoError(t, err)

	// No tmp residue after a successful write.
	ents, err := os.ReadDir(dataPath)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, MetadataFileName, ents[0].Name())
}

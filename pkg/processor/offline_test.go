package processor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/container"
	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/diskqueue"
	"github.com/fluxorio/runlog/pkg/operation"
)

func TestOfflineDataPathLayout(t *testing.T) {
	opts := testOptions(t, config.ModeOffline, nil)
	p, err := NewOffline(opts)
	require.NoError(t, err)
	defer func() { _ = p.Stop(time.Second) }()

	rel, err := filepath.Rel(opts.Config.DataDirectory, p.DataPath())
	require.NoError(t, err)
	parts := strings.Split(rel, string(filepath.Separator))
	require.Len(t, parts, 2)
	assert.Equal(t, "offline", parts[0])

	fields := strings.Split(parts[1], "__")
	require.Len(t, fields, 4)
	assert.Equal(t, "run", fields[0])
	assert.Equal(t, "run-abcd", fields[1])
	assert.Equal(t, strconv.Itoa(os.Getpid()), fields[2])
	assert.Regexp(t, `^[a-z0-9]{8}$`, fields[3])
}

func TestOfflineArtifactsSurviveStop(t *testing.T) {
	opts := testOptions(t, config.ModeOffline, nil)
	p, err := NewOffline(opts)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	for i := 0; i < 100; i++ {
		require.NoError(t, p.Process(&operation.LogFloats{
			Path:   operation.Path{"metrics", "loss"},
			Values: []operation.FloatPoint{{Value: float64(i), TimestampMS: int64(i)}},
		}))
	}
	require.NoError(t, p.Flush(time.Second))
	dataPath := p.DataPath()
	require.NoError(t, p.Stop(time.Second))

	// The directory is the deliverable.
	assert.DirExists(t, dataPath)
	assert.FileExists(t, filepath.Join(dataPath, "operations-0.log"))
	assert.FileExists(t, filepath.Join(dataPath, "metadata.json"))
	assert.DirExists(t, filepath.Join(dataPath, container.UploadDirName))

	// The log replays to exactly those operations in order, versions 1..100.
	q, err := diskqueue.Open(diskqueue.Config{Dir: dataPath, Logger: core.NopLogger()})
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	batch, err := q.GetBatch(1000, 0)
	require.NoError(t, err)
	require.Len(t, batch, 100)
	for i, v := range batch {
		require.Equal(t, uint64(i+1), v.Version)
		lf, ok := v.Op.(*operation.LogFloats)
		require.True(t, ok)
		assert.Equal(t, float64(i), lf.Values[0].Value)
	}
}

func TestOfflineMetadataMode(t *testing.T) {
	p, err := NewOffline(testOptions(t, config.ModeOffline, nil))
	require.NoError(t, err)
	defer func() { _ = p.Stop(time.Second) }()

	md, err := container.ReadMetadata(p.DataPath())
	require.NoError(t, err)
	assert.Equal(t, "offline", md.Mode)
}

func TestOfflineAdvisoryLock(t *testing.T) {
	opts := testOptions(t, config.ModeOffline, nil)
	lock := &countingLock{}
	opts.Lock = lock

	p, err := NewOffline(opts)
	require.NoError(t, err)
	defer func() { _ = p.Stop(time.Second) }()

	assert.Equal(t, 1, lock.locked)
	assert.Equal(t, 1, lock.unlocked)
}

type countingLock struct {
	locked   int
	unlocked int
}

func (l *countingLock) Lock()   { l.locked++ }
func (l *countingLock) Unlock() { l.unlocked++ }

func TestOfflineStopIsIdempotent(t *testing.T) {
	p, err := NewOffline(testOptions(t, config.ModeOffline, nil))
	require.NoError(t, err)
	require.NoError(t, p.Process(&operation.AssignString{Path: operation.Path{"a"}, Value: "b"}))
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second))

	// Processing after stop fails with the queue's closed error.
	err = p.Process(&operation.AssignString{Path: operation.Path{"a"}, Value: "c"})
	assert.ErrorIs(t, err, diskqueue.ErrClosed)
}

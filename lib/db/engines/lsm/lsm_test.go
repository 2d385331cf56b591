package lsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var errInjected = errors.New("injected write failure")

// failingFs fails the creation of segment files while fail is set
type failingFs struct {
	afero.Fs
	fail atomic.Bool
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.fail.Load() && strings.HasSuffix(name, tmpSuffix) {
		return nil, errInjected
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func openMem(t *testing.T, fs afero.Fs, threshold int) db.KVDB {
	t.Helper()
	database, err := Open(&Options{Dir: "/data", FlushThresholdBytes: threshold, FS: fs})
	require.NoError(t, err)
	return database
}

func metadata(database db.KVDB) map[string]interface{} {
	return database.GetInfo().Metadata.(map[string]interface{})
}

func segmentFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	matches, err := afero.Glob(fs, filepath.Join("/data", "*"+segmentSuffix))
	require.NoError(t, err)
	return matches
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)

	_, err = Open(&Options{})
	assert.Error(t, err)
}

func TestOpenCreatesWorkingDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	database, err := Open(&Options{Dir: "/a/b/c", FS: fs})
	require.NoError(t, err)
	defer database.Close()

	exists, err := afero.DirExists(fs, "/a/b/c")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestThresholdTriggersBackgroundFlush(t *testing.T) {
	fs := afero.NewMemMapFs()
	database := openMem(t, fs, 1024)
	defer database.Close()

	value := make([]byte, 100)
	for i := 0; i < 20; i++ {
		require.NoError(t, database.Upsert(db.NewEntry([]byte(fmt.Sprintf("key-%02d", i)), value)))
	}

	require.Eventually(t, func() bool {
		return metadata(database)["segments"].(int) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, segmentFiles(t, fs))
	for i := 0; i < 20; i++ {
		result, loaded, err := database.Get([]byte(fmt.Sprintf("key-%02d", i)))
		require.NoError(t, err)
		assert.True(t, loaded)
		assert.Equal(t, value, result)
	}
}

func TestNewestWriteWinsAcrossSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	database := openMem(t, fs, DefaultFlushThreshold)
	defer database.Close()

	key := []byte("key")
	for i := 0; i < 5; i++ {
		require.NoError(t, database.Upsert(db.NewEntry(key, []byte(fmt.Sprintf("v%d", i)))))
		require.NoError(t, database.Flush())
	}
	assert.Equal(t, 5, metadata(database)["segments"])

	result, loaded, err := database.Get(key)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "v4", string(result))

	// a value in the memtable shadows every segment
	require.NoError(t, database.Upsert(db.NewEntry(key, []byte("memtable"))))
	result, _, err = database.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "memtable", string(result))
}

func TestFailedFlushKeepsDataReadable(t *testing.T) {
	fs := &failingFs{Fs: afero.NewMemMapFs()}
	database := openMem(t, fs, DefaultFlushThreshold)
	defer database.Close()

	require.NoError(t, database.Upsert(db.NewEntry([]byte("a"), []byte("1"))))
	require.NoError(t, database.Upsert(db.NewEntry([]byte("b"), []byte("2"))))

	fs.fail.Store(true)
	err := database.Flush()
	require.ErrorIs(t, err, errInjected)

	// the frozen memtable is still pending and readable
	info := metadata(database)
	assert.Equal(t, 1, info["pending_memtables"])
	assert.Equal(t, 0, info["segments"])
	assert.Empty(t, segmentFiles(t, fs))

	result, loaded, err := database.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "1", string(result))

	// newer writes keep working while the flush is pending
	require.NoError(t, database.Upsert(db.NewEntry([]byte("a"), []byte("3"))))

	fs.fail.Store(false)
	require.NoError(t, database.Flush())

	info = metadata(database)
	assert.Equal(t, 0, info["pending_memtables"])
	assert.Equal(t, 2, info["segments"])

	result, _, err = database.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(result))
	result, _, err = database.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(result))
}

func TestFailedBackgroundFlushIsRetriedOnClose(t *testing.T) {
	fs := &failingFs{Fs: afero.NewMemMapFs()}
	fs.fail.Store(true)
	database := openMem(t, fs, 64)

	for i := 0; i < 10; i++ {
		require.NoError(t, database.Upsert(db.NewEntry([]byte(fmt.Sprintf("key-%d", i)), []byte("0123456789"))))
	}

	// every background attempt fails, nothing is lost
	for i := 0; i < 10; i++ {
		result, loaded, err := database.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		require.True(t, loaded)
		assert.Equal(t, "0123456789", string(result))
	}

	fs.fail.Store(false)
	require.NoError(t, database.Close())

	reopened := openMem(t, fs, 64)
	defer reopened.Close()
	for i := 0; i < 10; i++ {
		result, loaded, err := reopened.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		require.True(t, loaded)
		assert.Equal(t, "0123456789", string(result))
	}
}

func TestCloseReportsFlushFailure(t *testing.T) {
	fs := &failingFs{Fs: afero.NewMemMapFs()}
	database := openMem(t, fs, DefaultFlushThreshold)

	require.NoError(t, database.Upsert(db.NewEntry([]byte("a"), []byte("1"))))
	fs.fail.Store(true)

	err := database.Close()
	require.ErrorIs(t, err, errInjected)
	assert.ErrorIs(t, database.Close(), db.ErrClosed)
}

func TestOpenRemovesTemporaryFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))
	stale := filepath.Join("/data", segmentFileName(7)+tmpSuffix)
	require.NoError(t, afero.WriteFile(fs, stale, []byte("partial"), 0o644))

	database := openMem(t, fs, DefaultFlushThreshold)
	defer database.Close()

	exists, err := afero.Exists(fs, stale)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpenRejectsCorruptedSegment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/data", segmentFileName(1)), []byte("definitely not a segment file"), 0o644))

	_, err := Open(&Options{Dir: "/data", FS: fs})
	assert.ErrorIs(t, err, ErrCorruptedSegment)
}

func TestSequenceContinuesAfterReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	database := openMem(t, fs, DefaultFlushThreshold)
	require.NoError(t, database.Upsert(db.NewEntry([]byte("k"), []byte("old"))))
	require.NoError(t, database.Close())

	database = openMem(t, fs, DefaultFlushThreshold)
	require.NoError(t, database.Upsert(db.NewEntry([]byte("k"), []byte("new"))))
	require.NoError(t, database.Close())

	files := segmentFiles(t, fs)
	require.Len(t, files, 2)
	assert.Equal(t, segmentFileName(1), filepath.Base(files[0]))
	assert.Equal(t, segmentFileName(2), filepath.Base(files[1]))

	database = openMem(t, fs, DefaultFlushThreshold)
	defer database.Close()
	result, _, err := database.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(result))
}

func TestInfoReportsEngineMetrics(t *testing.T) {
	database := openMem(t, afero.NewMemMapFs(), DefaultFlushThreshold)
	defer database.Close()

	require.NoError(t, database.Upsert(db.NewEntry([]byte("a"), []byte("1"))))
	_, _, err := database.Get([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, database.Flush())

	info := database.GetInfo()
	assert.Equal(t, db.ImplLSM, info.DbType)

	engineMetrics := info.Metadata.(map[string]interface{})["metrics"].(map[string]interface{})
	assert.Equal(t, int64(1), engineMetrics[metricUpserts])
	assert.Equal(t, int64(1), engineMetrics[metricGets])
	assert.Greater(t, engineMetrics[metricFlushedBytes].(int64), int64(0))
	assert.Equal(t, int64(0), engineMetrics[metricFlushFailures])
}

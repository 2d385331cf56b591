package lsm

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/afero"
)

var Logger = logger.GetLogger("lsm")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// DefaultFlushThreshold is the memtable size (key + value bytes) that triggers a flush
const DefaultFlushThreshold = 1 << 20

// metric names of the engine registry
const (
	metricFlushTimer    = "flush.duration"
	metricFlushedBytes  = "flush.bytes"
	metricFlushFailures = "flush.failures"
	metricUpserts       = "ops.upsert"
	metricGets          = "ops.get"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the engine during Open
type Options struct {
	Dir                 string   // Working directory, created if absent
	FlushThresholdBytes int      // Memtable size that triggers a flush (0 = DefaultFlushThreshold)
	FS                  afero.Fs // Filesystem (nil = OS filesystem)
}

// DefaultOptions returns the default options for the working directory dir
func DefaultOptions(dir string) *Options {
	return &Options{
		Dir:                 dir,
		FlushThresholdBytes: DefaultFlushThreshold,
		FS:                  afero.NewOsFs(),
	}
}

// --------------------------------------------------------------------------
// Core LSM structure
// --------------------------------------------------------------------------

// flushRequest signals the background flusher that an immutable memtable is pending
type flushRequest struct{}

// lsmImpl implements db.KVDB as a log-structured merge store.
//
// Writes go into the active memtable. Once it reaches the flush threshold it is
// frozen and appended to the immutable list, a background goroutine persists
// the immutable memtables as segment files. A memtable leaves the immutable list
// only after its segment is opened and installed, so every write stays readable.
type lsmImpl struct {
	fs        afero.Fs
	dir       string
	threshold int

	// mu guards the fields below. Get holds the read lock for its whole duration.
	mu         sync.RWMutex
	memtable   *memtable
	immutables []*memtable // oldest first
	segments   []*segment  // oldest first
	closed     bool
	released   bool // segment files are closed

	// flushMu serialises flushes, nextSeq is only accessed while holding it
	flushMu sync.Mutex
	nextSeq uint64

	flushRequests *util.LockFreeMPSC[flushRequest]
	flusherDone   chan struct{}

	values *util.SizeHistogram

	registry      metrics.Registry
	flushTimer    metrics.Timer
	flushedBytes  metrics.Counter
	flushFailures metrics.Counter
	upserts       metrics.Counter
	gets          metrics.Counter
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// Open opens (or creates) the engine in opts.Dir.
// Stale temporary files of interrupted flushes are removed and all existing
// segments are loaded in sequence order.
func Open(opts *Options) (db.KVDB, error) {
	if opts == nil || opts.Dir == "" {
		return nil, errors.New("lsm: a working directory is required")
	}

	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	threshold := opts.FlushThresholdBytes
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}

	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create working directory: %w", err)
	}

	segments, err := loadSegments(fs, opts.Dir)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	e := &lsmImpl{
		fs:            fs,
		dir:           opts.Dir,
		threshold:     threshold,
		memtable:      newMemtable(),
		segments:      segments,
		nextSeq:       1,
		flushRequests: util.NewLockFreeMPSC[flushRequest](),
		flusherDone:   make(chan struct{}),
		values:        util.NewSizeHistogram(),
		registry:      registry,
		flushTimer:    metrics.GetOrRegisterTimer(metricFlushTimer, registry),
		flushedBytes:  metrics.GetOrRegisterCounter(metricFlushedBytes, registry),
		flushFailures: metrics.GetOrRegisterCounter(metricFlushFailures, registry),
		upserts:       metrics.GetOrRegisterCounter(metricUpserts, registry),
		gets:          metrics.GetOrRegisterCounter(metricGets, registry),
	}
	if n := len(segments); n > 0 {
		e.nextSeq = segments[n-1].seq + 1
	}

	go e.flusher()

	Logger.Infof("opened %s with %d segments (flush threshold %d bytes)", opts.Dir, len(segments), threshold)
	return e, nil
}

// loadSegments removes leftover temporary files and opens every segment in dir
func loadSegments(fs afero.Fs, dir string) ([]*segment, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("lsm: read working directory: %w", err)
	}

	var segments []*segment
	closeAll := func() {
		for _, s := range segments {
			_ = s.close()
		}
	}

	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		path := filepath.Join(dir, name)

		if strings.HasSuffix(name, tmpSuffix) {
			Logger.Warningf("removing incomplete segment %s", path)
			if err := fs.Remove(path); err != nil {
				closeAll()
				return nil, fmt.Errorf("lsm: remove %s: %w", path, err)
			}
			continue
		}

		seq, ok := parseSegmentFileName(name)
		if !ok {
			continue
		}
		s, err := openSegment(fs, path, seq)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("lsm: open segment: %w", err)
		}
		segments = append(segments, s)
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})
	return segments, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Upsert implements db.KVDB. docu see db.KVDB.Upsert
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *lsmImpl) Upsert(entry db.Entry) error {
	// the caller may reuse its buffers
	stored := db.Entry{
		Key:       bytes.Clone(entry.Key),
		Tombstone: entry.Tombstone,
	}
	if !entry.Tombstone {
		stored.Value = bytes.Clone(entry.Value)
		if stored.Value == nil {
			stored.Value = []byte{}
		}
	}
	if stored.Key == nil {
		stored.Key = []byte{}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return db.ErrClosed
	}
	e.memtable.put(stored)
	frozen := false
	if e.memtable.size >= e.threshold {
		e.freezeLocked()
		frozen = true
	}
	e.mu.Unlock()

	e.upserts.Inc(1)
	if !stored.Tombstone {
		e.values.AddSample(len(stored.Value))
	}

	if frozen {
		e.flushRequests.Push(&flushRequest{})
	}
	return nil
}

// freezeLocked moves the active memtable to the immutable list.
// The caller must hold the write lock.
func (e *lsmImpl) freezeLocked() {
	if e.memtable.len() == 0 {
		return
	}
	e.immutables = append(e.immutables, e.memtable)
	e.memtable = newMemtable()
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

// Get implements db.KVDB. docu see db.KVDB.Get
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *lsmImpl) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, false, db.ErrClosed
	}
	e.gets.Inc(1)

	if entry, ok := e.memtable.get(key); ok {
		return resolve(entry)
	}

	for i := len(e.immutables) - 1; i >= 0; i-- {
		if entry, ok := e.immutables[i].get(key); ok {
			return resolve(entry)
		}
	}

	for i := len(e.segments) - 1; i >= 0; i-- {
		entry, ok, err := e.segments[i].get(key)
		if err != nil {
			return nil, false, fmt.Errorf("lsm: read segment %d: %w", e.segments[i].seq, err)
		}
		if ok {
			return resolve(entry)
		}
	}

	return nil, false, nil
}

// resolve turns the newest entry of a key into the result of Get
func resolve(entry db.Entry) ([]byte, bool, error) {
	if entry.Tombstone {
		return nil, false, nil
	}
	return bytes.Clone(entry.Value), true, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Flush implements db.KVDB. docu see db.KVDB.Flush
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *lsmImpl) Flush() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return db.ErrClosed
	}
	e.freezeLocked()
	e.mu.Unlock()

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	return e.flushPendingLocked()
}

// flusher persists immutable memtables whenever a flush is requested.
// A failed flush is logged, the memtable stays pending for the next attempt.
func (e *lsmImpl) flusher() {
	defer close(e.flusherDone)

	for range e.flushRequests.Recv() {
		e.flushMu.Lock()
		err := e.flushPendingLocked()
		e.flushMu.Unlock()

		if err != nil {
			Logger.Errorf("background flush failed: %v", err)
		}
	}
}

// flushPendingLocked writes every immutable memtable to a new segment, oldest first.
// The caller must hold flushMu.
func (e *lsmImpl) flushPendingLocked() error {
	for {
		e.mu.RLock()
		if e.released {
			e.mu.RUnlock()
			return db.ErrClosed
		}
		if len(e.immutables) == 0 {
			e.mu.RUnlock()
			return nil
		}
		// only this goroutine removes from the front, so m stays at index 0
		m := e.immutables[0]
		e.mu.RUnlock()

		if err := e.flushOne(m); err != nil {
			e.flushFailures.Inc(1)
			return err
		}
	}
}

// flushOne persists m and swaps it for the resulting segment
func (e *lsmImpl) flushOne(m *memtable) error {
	start := time.Now()
	seq := e.nextSeq

	path, written, err := writeSegment(e.fs, e.dir, seq, m)
	if err != nil {
		return fmt.Errorf("lsm: write segment %d: %w", seq, err)
	}

	s, err := openSegment(e.fs, path, seq)
	if err != nil {
		_ = e.fs.Remove(path)
		return fmt.Errorf("lsm: open segment %d: %w", seq, err)
	}
	e.nextSeq++

	e.mu.Lock()
	e.segments = append(e.segments, s)
	e.immutables[0] = nil
	e.immutables = e.immutables[1:]
	e.mu.Unlock()

	e.flushTimer.UpdateSince(start)
	e.flushedBytes.Inc(written)
	Logger.Debugf("flushed %d entries to %s (%d bytes) in %s", m.len(), path, written, time.Since(start))
	return nil
}

// Close implements db.KVDB. docu see db.KVDB.Close
//
// Thread-safety: This method is thread-safe, only the first call has an effect.
func (e *lsmImpl) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return db.ErrClosed
	}
	e.closed = true
	e.freezeLocked()
	e.mu.Unlock()

	// stop the background flusher, queued requests are drained first
	e.flushRequests.Close()
	<-e.flusherDone

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var errs []error
	if err := e.flushPendingLocked(); err != nil {
		errs = append(errs, err)
	}

	e.mu.Lock()
	e.released = true
	for _, s := range e.segments {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("lsm: close segment %d: %w", s.seq, err))
		}
	}
	pending := len(e.immutables)
	e.mu.Unlock()

	e.registry.UnregisterAll()

	if pending > 0 {
		Logger.Errorf("closed %s with %d unflushed memtables", e.dir, pending)
	} else {
		Logger.Infof("closed %s", e.dir)
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// GetInfo implements db.KVDB. docu see db.KVDB.GetInfo
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *lsmImpl) GetInfo() db.DatabaseInfo {
	e.mu.RLock()
	segmentBytes := int64(0)
	segmentKeys := 0
	for _, s := range e.segments {
		segmentBytes += s.size
		segmentKeys += len(s.keys)
	}
	pendingBytes := 0
	for _, m := range e.immutables {
		pendingBytes += m.size
	}
	memtableBytes := e.memtable.size
	memtableKeys := e.memtable.len()
	segmentCount := len(e.segments)
	pendingCount := len(e.immutables)
	e.mu.RUnlock()

	engineMetrics := make(map[string]interface{})
	e.registry.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case metrics.Counter:
			engineMetrics[name] = m.Snapshot().Count()
		case metrics.Timer:
			snapshot := m.Snapshot()
			engineMetrics[name] = map[string]interface{}{
				"count":   snapshot.Count(),
				"mean_ms": snapshot.Mean() / float64(time.Millisecond),
				"p99_ms":  snapshot.Percentile(0.99) / float64(time.Millisecond),
			}
		}
	})

	return db.DatabaseInfo{
		SizeBytes: int(segmentBytes) + pendingBytes + memtableBytes,
		DbType:    db.ImplLSM,
		Metadata: map[string]interface{}{
			"dir":                    e.dir,
			"flush_threshold_bytes":  e.threshold,
			"segments":               segmentCount,
			"segment_bytes":          segmentBytes,
			"segment_keys":           segmentKeys,
			"pending_memtables":      pendingCount,
			"pending_memtable_bytes": pendingBytes,
			"memtable_bytes":         memtableBytes,
			"memtable_keys":          memtableKeys,
			"values_written":         e.values.GetCount(),
			"value_size_avg":         e.values.AverageSize(),
			"value_size_p50":         e.values.MedianEstimate(),
			"value_size_p99":         e.values.GetPercentileEstimate(99),
			"metrics":                engineMetrics,
		},
	}
}

// Package lsm implements the db.KVDB interface as a log-structured merge store.
//
// Writes are buffered in an ordered in-memory table (the memtable) and persisted
// as immutable, key-ordered segment files once the buffer reaches the flush
// threshold. Reads merge the buffer with every segment, the most recent write
// for a key wins.
//
// Key Components:
//
//   - memtable: A B-tree (github.com/google/btree) ordered by key bytes. It holds
//     value entries and tombstones and tracks the accumulated key and value bytes
//     of all upserts. A full memtable is frozen (moved to the immutable list) and
//     replaced by an empty one, writers never wait for the disk.
//
//   - segment: An immutable file written from one frozen memtable. Values are
//     snappy compressed per record, the key index is loaded into memory on open and
//     values are read on demand with ReadAt. Segments are written to a temporary
//     file, synced and renamed, so a segment file is either complete or missing.
//
//   - flusher: A background goroutine that drains flush requests from a
//     util.LockFreeMPSC queue and persists the immutable memtables oldest first.
//
// Read Order:
//
//	active memtable → immutable memtables (newest first) → segments (newest first)
//
// The first hit decides the result, a tombstone hit means "not found".
//
// Failure Handling:
//
//   - A frozen memtable is removed from the immutable list only after its
//     segment file was opened and installed. If writing the segment fails, the
//     memtable stays readable and pending. It is retried by the next background
//     flush, by Flush and by Close.
//   - On Open, leftover temporary files of interrupted flushes are removed and a
//     segment that fails validation (magic, index checksum) aborts the open with
//     ErrCorruptedSegment.
//
// Thread-safety:
//
// A single sync.RWMutex guards the memtable, the immutable list and the segment
// list. Get holds the read lock for its whole duration, so a flush never becomes
// visible halfway through a read. A second mutex serialises flushes.
//
// All file access goes through an afero.Fs, tests run the engine on an in-memory
// filesystem and inject write failures.
package lsm

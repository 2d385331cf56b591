// Package db provides a standardized interface for ordered key-value storage engines.
// It defines the KVDB interface that the node's data path talks to, so the engine
// behind a node can be replaced without touching the request handling code.
//
// The package focuses on:
//   - A unified interface for point reads and upserts over byte-sequence keys
//   - Tombstones as first-class entries (a delete is an upsert)
//   - Explicit persistence operations (Flush, Close)
//   - Metadata reporting for monitoring
//
// Key Components:
//
//   - Entry: A key with either a value or a tombstone marker. A tombstone is a valid,
//     stored entry that shadows any older value for the same key. Readers never see
//     the tombstone itself, Get reports "not found" for it.
//
//   - KVDB Interface: The core interface all engines must satisfy. Upsert writes into
//     an in-memory buffer, Get merges the buffer with everything already persisted,
//     Flush and Close make buffered writes durable.
//
//   - Database Information: DatabaseInfo carries an estimated size, the engine type and
//     engine-specific metadata. Most values are estimates since a precise calculation
//     can be expensive.
//
// Note on Ordering:
//   - For a single key, upserts are linearized by the engine. Once Upsert returns, every
//     subsequent Get observes the write (or a newer one).
//   - A flush never changes the result of a Get. Buffers stay readable until the data
//     they hold is readable from disk.
//
// Note on Space Reclamation:
//   - Engines are not required to remove superseded values or tombstones from disk.
//     Segment compaction is not part of this interface.
//
// Related Packages:
//
// The engines/lsm package (github.com/ValentinKolb/dht/lib/db/engines/lsm) implements
// KVDB as a log-structured merge store: an ordered memtable plus immutable segment files.
//
// The util package (github.com/ValentinKolb/dht/lib/db/util) provides complementary
// tools for engines:
//   - SizeHistogram: Utilities for analyzing value size distributions
//   - LockFreeMPSC: A lock-free multi-producer single-consumer queue used for flush requests
//
// The testing package (github.com/ValentinKolb/dht/lib/db/testing) provides
// standardized tests and benchmarks for engines that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db

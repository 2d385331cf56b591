// Package util provides utility components for
// storage engines that satisfy the db.KVDB interface.
//
// The package contains:
//   - statistics: A SizeHistogram for tracking the value size distribution of an engine
//     without scanning its data, plus simple summary statistics
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue. Engines use it
//     to hand work (e.g. flush requests) from writer goroutines to a single background worker
//
// Each component is safe for concurrent use unless stated otherwise.
package util

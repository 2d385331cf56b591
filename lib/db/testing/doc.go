// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: A test suite for the KVDB contract (round trip, delete visibility,
//     flush transparency, persistence across reopen, closed state, concurrency)
//   - benchmark: Performance tests for measuring throughput of common database operations
//
// The factory receives a fresh temporary directory for every test. The Reopen test
// calls the factory a second time with the same directory.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(dir string) (db.KVDB, error) {
//		return mydb.Open(dir)
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing

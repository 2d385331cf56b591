package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dht/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Upsert", func(b *testing.B) {
		benchmarkUpsert(b, open(b, factory, b.TempDir()))
	})

	b.Run("UpsertExisting", func(b *testing.B) {
		benchmarkUpsertExisting(b, open(b, factory, b.TempDir()))
	})

	b.Run("UpsertLargeValue", func(b *testing.B) {
		benchmarkUpsertLargeValue(b, open(b, factory, b.TempDir()))
	})

	b.Run("GetMemtable", func(b *testing.B) {
		benchmarkGet(b, open(b, factory, b.TempDir()), false)
	})

	b.Run("GetSegments", func(b *testing.B) {
		benchmarkGet(b, open(b, factory, b.TempDir()), true)
	})

	b.Run("Get(not)", func(b *testing.B) {
		benchmarkGetNot(b, open(b, factory, b.TempDir()))
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, open(b, factory, b.TempDir()))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, open(b, factory, b.TempDir()))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Upsert operation
func benchmarkUpsert(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			key := []byte(fmt.Sprintf("test-key-%d", i))
			value := []byte(fmt.Sprintf("test-value-%d", i))
			_ = database.Upsert(db.NewEntry(key, value))
		}
	})
}

// Benchmark for Upsert operation with existing keys
func benchmarkUpsertExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("test-key-%d", i))
		_ = database.Upsert(db.NewEntry(key, []byte(fmt.Sprintf("test-value-%d", i))))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", counter%numKeys))
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			_ = database.Upsert(db.NewEntry(key, value))
			counter++
		}
	})
}

// Benchmark for Upsert operation with large values (forces frequent flushes)
func benchmarkUpsertLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	largeValue := make([]byte, 256*1024)
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", counter.Add(1)))
			_ = database.Upsert(db.NewEntry(key, largeValue))
		}
	})
}

// Parallel benchmarking for Get operation.
// With persisted set, every key is read from a segment file.
func benchmarkGet(b *testing.B, database db.KVDB, persisted bool) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("test-key-%d", i))
		_ = database.Upsert(db.NewEntry(key, []byte(fmt.Sprintf("test-value-%d", i))))
	}
	if persisted {
		if err := database.Flush(); err != nil {
			b.Fatalf("Flush failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", r.Intn(numKeys)))
			_, _, _ = database.Get(key)
		}
	})
}

// Benchmark for Get operation on keys that do not exist
func benchmarkGetNot(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("test-key-%d", i))
		_ = database.Upsert(db.NewEntry(key, []byte("value")))
	}
	_ = database.Flush()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := []byte(fmt.Sprintf("missing-key-%d", counter))
			_, _, _ = database.Get(key)
			counter++
		}
	})
}

// Benchmark for Delete operation
func benchmarkDelete(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", counter.Add(1)))
			_ = database.Upsert(db.NewTombstone(key))
		}
	})
}

// Benchmark for a read heavy mix of operations (80% get, 15% upsert, 5% delete)
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		closeDB(b, database)
	})

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("test-key-%d", i))
		_ = database.Upsert(db.NewEntry(key, []byte(fmt.Sprintf("test-value-%d", i))))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := []byte(fmt.Sprintf("test-key-%d", r.Intn(numKeys)))
			switch op := r.Intn(100); {
			case op < 80:
				_, _, _ = database.Get(key)
			case op < 95:
				_ = database.Upsert(db.NewEntry(key, []byte("updated-value")))
			default:
				_ = database.Upsert(db.NewTombstone(key))
			}
		}
	})
}

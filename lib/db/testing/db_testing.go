package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dht/lib/db"
)

// DBFactory opens a KVDB implementation in the working directory dir.
// Opening the same directory again must expose every write made before Close.
type DBFactory func(dir string) (db.KVDB, error)

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Upsert&Get", func(t *testing.T) {
			testUpsertGet(t, open(t, factory, t.TempDir()))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, open(t, factory, t.TempDir()))
		})

		t.Run("FlushTransparency", func(t *testing.T) {
			testFlushTransparency(t, open(t, factory, t.TempDir()))
		})

		t.Run("Reopen", func(t *testing.T) {
			testReopen(t, factory)
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, open(t, factory, t.TempDir()))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, open(t, factory, t.TempDir()))
		})

		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, open(t, factory, t.TempDir()))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, open(t, factory, t.TempDir()))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// open creates a database with the factory and fails the test on error
func open(t testing.TB, factory DBFactory, dir string) db.KVDB {
	t.Helper()
	database, err := factory(dir)
	if err != nil {
		t.Fatalf("Failed to open database in %s: %v", dir, err)
	}
	return database
}

// closeDB closes the database, ErrClosed is expected for tests that already closed it
func closeDB(t testing.TB, database db.KVDB) {
	if err := database.Close(); err != nil && !errors.Is(err, db.ErrClosed) {
		t.Errorf("Close failed: %v", err)
	}
}

func mustUpsert(t testing.TB, database db.KVDB, e db.Entry) {
	t.Helper()
	if err := database.Upsert(e); err != nil {
		t.Fatalf("Upsert(%q) failed: %v", e.Key, err)
	}
}

// expectValue checks that key holds value, a nil value means "not found"
func expectValue(t testing.TB, database db.KVDB, key []byte, value []byte) {
	t.Helper()
	result, loaded, err := database.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if value == nil {
		if loaded {
			t.Errorf("Expected key %q to be absent, got %q", key, result)
		}
		return
	}
	if !loaded {
		t.Errorf("Expected key %q to exist", key)
		return
	}
	if !bytes.Equal(result, value) {
		t.Errorf("Expected value %q for key %q, got %q", value, key, result)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpsertGet(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	key := []byte("test-key")
	value1 := []byte("test-value1")
	value2 := []byte("test-value2")

	mustUpsert(t, database, db.NewEntry(key, value1))
	expectValue(t, database, key, value1)

	mustUpsert(t, database, db.NewEntry(key, value2))
	expectValue(t, database, key, value2)

	expectValue(t, database, []byte("nonexistent-key"), nil)

	// the returned value is a copy
	retrieved, _, _ := database.Get(key)
	retrieved[0] = 'X'
	expectValue(t, database, key, value2)

	// the engine does not keep references to the callers buffers
	buffer := []byte("buffered-value")
	mustUpsert(t, database, db.NewEntry(key, buffer))
	buffer[0] = 'X'
	expectValue(t, database, key, []byte("buffered-value"))
}

func testDelete(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	key := []byte("delete-key")
	mustUpsert(t, database, db.NewEntry(key, []byte("value")))
	mustUpsert(t, database, db.NewTombstone(key))
	expectValue(t, database, key, nil)

	// the tombstone also shadows a persisted value
	mustUpsert(t, database, db.NewEntry(key, []byte("persisted")))
	if err := database.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	mustUpsert(t, database, db.NewTombstone(key))
	expectValue(t, database, key, nil)

	// and a persisted tombstone shadows older segments
	if err := database.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	expectValue(t, database, key, nil)

	// deleting a key that was never written is valid
	mustUpsert(t, database, db.NewTombstone([]byte("never-written")))
	expectValue(t, database, []byte("never-written"), nil)

	// a write after a delete is visible again
	mustUpsert(t, database, db.NewEntry(key, []byte("revived")))
	expectValue(t, database, key, []byte("revived"))
}

func testFlushTransparency(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	model := make(map[string][]byte)
	value := bytes.Repeat([]byte("v"), 512)

	for round := 0; round < 5; round++ {
		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("key-%04d", i)

			switch {
			case i%7 == round:
				mustUpsert(t, database, db.NewTombstone([]byte(key)))
				delete(model, key)
			case i%3 == round%3:
				v := append([]byte(fmt.Sprintf("%d-", round)), value...)
				mustUpsert(t, database, db.NewEntry([]byte(key), v))
				model[key] = v
			}
		}

		// every second round is persisted explicitly, the others only
		// through the flush threshold of the engine
		if round%2 == 0 {
			if err := database.Flush(); err != nil {
				t.Fatalf("Flush failed in round %d: %v", round, err)
			}
		}

		for i := 0; i < 1000; i++ {
			key := fmt.Sprintf("key-%04d", i)
			expectValue(t, database, []byte(key), model[key])
		}
	}
}

func testReopen(t *testing.T, factory DBFactory) {
	dir := t.TempDir()
	database := open(t, factory, dir)

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		mustUpsert(t, database, db.NewEntry(key, []byte(fmt.Sprintf("value-%d", i))))
	}
	if err := database.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	for i := 0; i < 500; i += 2 {
		mustUpsert(t, database, db.NewTombstone([]byte(fmt.Sprintf("key-%d", i))))
	}

	// unflushed writes are persisted by Close
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	database = open(t, factory, dir)
	defer closeDB(t, database)

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if i%2 == 0 {
			expectValue(t, database, key, nil)
		} else {
			expectValue(t, database, key, []byte(fmt.Sprintf("value-%d", i)))
		}
	}
}

func testClosed(t *testing.T, database db.KVDB) {
	mustUpsert(t, database, db.NewEntry([]byte("key"), []byte("value")))

	if err := database.Close(); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}

	if err := database.Close(); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed on second Close, got %v", err)
	}
	if err := database.Upsert(db.NewEntry([]byte("key"), []byte("value"))); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed on Upsert, got %v", err)
	}
	if _, _, err := database.Get([]byte("key")); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed on Get, got %v", err)
	}
	if err := database.Flush(); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed on Flush, got %v", err)
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	// empty value is a value, not a delete
	mustUpsert(t, database, db.NewEntry([]byte("empty"), nil))
	result, loaded, err := database.Get([]byte("empty"))
	if err != nil || !loaded || len(result) != 0 {
		t.Errorf("Expected empty value, got %q loaded=%v err=%v", result, loaded, err)
	}

	// binary keys and values
	binaryKey := []byte{0x00, 0xff, 0x10, 0x00}
	binaryValue := []byte{0x00, 0x01, 0x02, 0xfe, 0xff}
	mustUpsert(t, database, db.NewEntry(binaryKey, binaryValue))

	// unicode keys
	unicodeKey := []byte("ключ-键-🔑")
	mustUpsert(t, database, db.NewEntry(unicodeKey, []byte("unicode")))

	// large value
	large := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	mustUpsert(t, database, db.NewEntry([]byte("large"), large))

	// keys sharing a prefix must not shadow each other
	mustUpsert(t, database, db.NewEntry([]byte("prefix"), []byte("short")))
	mustUpsert(t, database, db.NewEntry([]byte("prefix-long"), []byte("long")))

	check := func() {
		expectValue(t, database, binaryKey, binaryValue)
		expectValue(t, database, unicodeKey, []byte("unicode"))
		expectValue(t, database, []byte("large"), large)
		expectValue(t, database, []byte("prefix"), []byte("short"))
		expectValue(t, database, []byte("prefix-long"), []byte("long"))
		expectValue(t, database, []byte("prefix-"), nil)
	}

	check()
	if err := database.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	check()

	// flushing an empty buffer is a no-op
	if err := database.Flush(); err != nil {
		t.Fatalf("Flush of an empty buffer failed: %v", err)
	}
	check()
}

func testConcurrency(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	const goroutines = 8
	const keysPerGoroutine = 300

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < keysPerGoroutine; i++ {
				key := []byte(fmt.Sprintf("g%d-key-%d", g, i))
				value := []byte(fmt.Sprintf("g%d-value-%d", g, i))

				if err := database.Upsert(db.NewEntry(key, value)); err != nil {
					errs <- err
					return
				}

				// every write is visible to the writer immediately
				result, loaded, err := database.Get(key)
				if err != nil {
					errs <- err
					return
				}
				if !loaded || !bytes.Equal(result, value) {
					errs <- fmt.Errorf("read-your-write failed for %s: got %q", key, result)
					return
				}

				if i%50 == 0 {
					if err := database.Flush(); err != nil {
						errs <- err
						return
					}
				}
			}
		}(g)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for g := 0; g < goroutines; g++ {
		for i := 0; i < keysPerGoroutine; i++ {
			key := []byte(fmt.Sprintf("g%d-key-%d", g, i))
			expectValue(t, database, key, []byte(fmt.Sprintf("g%d-value-%d", g, i)))
		}
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer closeDB(t, database)

	for i := 0; i < 100; i++ {
		mustUpsert(t, database, db.NewEntry([]byte(fmt.Sprintf("key-%d", i)), []byte("value")))
	}

	info := database.GetInfo()
	if info.DbType == "" {
		t.Errorf("Expected a database type in info")
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected a positive size estimate, got %d", info.SizeBytes)
	}
}

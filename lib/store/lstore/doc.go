// Package lstore implements a local, single-node key-value store based on the
// store.IStore interface. It is a thin wrapper around a db.KVDB implementation:
// string keys are stored as their UTF-8 bytes, a delete is stored as a tombstone
// entry.
//
// Key Features:
//   - Durable storage through the injected db.KVDB (the node uses the lsm engine)
//   - Engine errors are translated to *store.Error with a RetCode
//   - Thread-safe operations for concurrent access
//
// Error Translation:
//
//   - db.ErrClosed becomes RetCClosed
//   - every other engine error becomes RetCInternalError and is logged
//
// Thread Safety:
//
//	The store holds no state besides the database handle. The underlying db.KVDB
//	implementation is expected to provide its own thread safety guarantees.
//
// Usage Example:
//
//	factory := func() (db.KVDB, error) { return lsm.Open(lsm.DefaultOptions("data")) }
//	s, err := lstore.NewLocalStore(factory)
//
//	err = s.Put("user:1", []byte("alice"))
//	value, exists, err := s.Get("user:1")
//	err = s.Delete("user:1")
package lstore

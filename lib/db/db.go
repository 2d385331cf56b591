package db

import (
	"errors"
)

// ErrClosed is returned by every operation on a database after Close was called.
var ErrClosed = errors.New("db: database is closed")

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplLSM Implementation = "lsm"
)

// Entry is a single key-value pair. An entry with Tombstone set records a
// logical delete of its key; its Value is always nil.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// NewEntry creates a value entry for key.
func NewEntry(key, value []byte) Entry {
	if value == nil {
		value = []byte{}
	}
	return Entry{Key: key, Value: value}
}

// NewTombstone creates a tombstone entry for key.
func NewTombstone(key []byte) Entry {
	return Entry{Key: key, Tombstone: true}
}

// Size returns the number of bytes the entry accounts for in a write buffer.
func (e Entry) Size() int {
	return len(e.Key) + len(e.Value)
}

type DatabaseInfo struct {
	SizeBytes int            `json:"size_bytes"`
	DbType    Implementation `json:"db_type"`
	Metadata  interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for ordered key-value storage engines.
// Implementations buffer writes in memory and persist them to disk. Reads must
// merge every buffer and every persisted segment, the most recent write for a
// key wins.
//
// All methods must be safe for concurrent use.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Upsert inserts or overwrites the entry for e.Key.
	// A tombstone entry records a delete, older persisted values are not removed.
	// Upsert may trigger a flush of the write buffer.
	Upsert(e Entry) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value is false if the key was never written or if the
	// most recent entry for the key is a tombstone.
	// The returned value is a copy and may be modified by the caller.
	Get(key []byte) (value []byte, loaded bool, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Flush synchronously persists every pending write buffer.
	Flush() (err error)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close persists all buffered writes and releases all resources.
	// Every call after the first returns ErrClosed.
	Close() (err error)
}

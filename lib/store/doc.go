// Package store provides a high-level interface for key-value storage operations
// on string keys with unified error handling. It serves as an abstraction layer over
// the lower-level db.KVDB implementations: the request handlers of a node only talk to
// an IStore and never to an engine directly.
//
// The package focuses on:
//   - A unified interface (IStore) for Get, Put and Delete across different backends
//   - Pluggable storage backend architecture through the DBFactory pattern
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. A delete is recorded, not executed: the store reports the key
//     as not found afterwards, the engine decides when the space is reclaimed.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     (RetCode) and descriptive messages. Request handlers map the codes to responses
//     instead of inspecting error strings.
//
//   - DBFactory: A function type that abstracts the opening of the underlying db.KVDB,
//     the node passes a factory that opens the LSM engine in its working directory.
//
// Implementations:
//
//   - Local Store (lstore): Stores data in a db.KVDB owned by this process.
//     Available in the "github.com/ValentinKolb/dht/lib/store/lstore" package.
//
//   - RPC Store (rpc/client): Talks to a node over HTTP. Used by the command line client.
//     Available in the "github.com/ValentinKolb/dht/rpc/client" package.
package store

// Package rpc contains the request path of a node, from the http surface down
// to the local store and across to the other members.
//
// The package is organized into several subpackages:
//
//   - common: Request/response types, failure kinds, configuration structures
//     and logging.
//
//   - transport: Network abstractions for serving and sending requests,
//     implemented on top of HTTP.
//
//   - client: The forwarder relaying requests to the owning node and an
//     store.IStore implementation talking to a remote node.
//
//   - server: The node itself, admission control, routing and handlers.
package rpc

// Package transport defines the interfaces and abstractions for the network
// boundary of a node. The request handling code only sees decoded requests
// (common.Request) and produces responses (common.Response), the transport
// owns sockets, framing and connection lifecycle.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Asynchronous responses through a common.ResponseSink, so a request can be
//     queued without blocking the connection goroutine on a worker
//   - Classified client failures (bad address, unreachable, interrupted)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending. Used for forwarding
//     requests between nodes and by the command line client.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and hands them to the registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// The http package (github.com/ValentinKolb/dht/rpc/transport/http) implements both
// interfaces on net/http.
package transport

package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dht/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// This function is called by a server transport layer when a request is received.
// It must not block: the response is delivered later through the sink. The
// transport waits for the response until the connection or the transport is closed.
type ServerHandleFunc func(req *common.Request, sink common.ResponseSink)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds config.Endpoint and serves requests until Close is called
	Listen(config common.ServerConfig) error
	// Serve serves requests on an existing listener until Close is called
	Serve(listener net.Listener) error
	// OpenConnections returns the number of open client connections
	OpenConnections() int
	// Close stops accepting connections and force-closes every open connection.
	// Requests that are still waiting for a response are abandoned.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport.
// Failures are returned as *common.Error, the kind tells whether the address
// was malformed, the target was unreachable or the caller gave up waiting.
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to one of the configured endpoints (round-robin)
	Send(ctx context.Context, req *common.Request) (resp common.Response, err error)
	// SendTo sends a request to the given endpoint url
	SendTo(ctx context.Context, endpoint string, req *common.Request) (resp common.Response, err error)
	// Close closes the transport connection
	Close() error
}

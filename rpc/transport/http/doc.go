// Package http implements the transport interfaces on net/http.
//
// Server:
//
//   - A single catch-all handler decodes method, path, query parameters, body and
//     the forwarded marker into a common.Request and passes it to the registered
//     handler together with a channel backed common.ResponseSink. The connection
//     goroutine then waits for the response or for the end of the request context.
//
//   - Every client connection is tracked in an xsync.MapOf keyed by net.Conn
//     (updated by the ConnState hook). Close cancels the base context of all
//     requests, closes the listener and force-closes every tracked connection, so
//     waiting clients see a disconnect instead of a timeout.
//
//   - With log level debug, a middleware assigns each request a uuid (X-Request-Id)
//     and logs method, path, status and latency.
//
// Client:
//
//   - Send picks an endpoint round-robin, SendTo targets a given url. Failures are
//     returned as *common.Error: a malformed or non-http url is FailureBadAddress,
//     a canceled caller context is FailureInterrupted, every other transport
//     failure or timeout is FailureUnreachable. Only unreachable targets are retried.
//   - Any status code is a successful round trip, interpreting it is up to the caller.
//
// Thread Safety:
//
//	Both transports are safe for concurrent use once started. The client uses an
//	atomic counter for the round-robin selection.
package http

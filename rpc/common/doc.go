// Package common provides core data structures and utilities shared across
// the node. It defines the decoded request model, the failure kinds of the data
// path, configuration structures and the logging setup.
//
// The package focuses on:
//   - A transport independent request and response model
//   - An explicit result type for failures (Error with a FailureKind)
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Request / Response: The transport decodes every inbound call into a Request
//     and writes back whatever Response is sent to its ResponseSink. The request
//     handlers never see the transport.
//
//   - FailureKind: Classifies failures (storage, bad address, unreachable,
//     interrupted, rejected, internal). Each kind maps to exactly one response
//     status, the dispatcher pattern-matches on the kind with KindOf.
//
//   - ServerConfig: Configuration of a node: endpoints, cluster members,
//     storage, worker pool and logging. Validate reports every problem at once.
//
//   - ClientConfig: Configuration for client components, controlling endpoints,
//     timeouts and retry behavior.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory while providing consistent formatting across the application.
package common

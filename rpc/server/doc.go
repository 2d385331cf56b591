// Package server implements a single node of the cluster: it accepts requests
// for the entity resource, decides whether this node owns the key and either
// serves the request from the local store or forwards it to the owner.
//
// The package focuses on:
//   - Admission control with a bounded queue that sheds load instead of blocking
//   - Routing every key to exactly one member, see cluster.Router
//   - Mapping storage and forwarding failures to http status codes
//
// Key Components:
//
//   - WorkerPool: A fixed number of workers draining a bounded FIFO queue.
//     TrySubmit never blocks, a full queue rejects the task.
//
//   - Dispatcher: Validates a request, picks a Handler and runs it on the pool.
//     Invalid requests are answered without touching the queue.
//
//   - Handler: LocalHandler (local store), ForwardHandler (owner node) and
//     RejectHandler (fixed status).
//
//   - NewRPCServer: Factory function creating a node with the given server
//     transport and the client transport used for forwarding.
//
// Status codes:
//
//	GET    200 value | 404 missing
//	PUT    201
//	DELETE 202
//	400 invalid path or missing id, 405 unsupported method,
//	500 storage failure (body = error text), 503 queue full,
//	502 bad owner address, 504 owner unreachable or timed out
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:       "0.0.0.0:8080",
//	  SelfURL:        "http://node-1:8080",
//	  ClusterMembers: members,
//	  DataDir:        "./data",
//	  FlushThresholdBytes: 1 << 20,
//	  Workers:        runtime.NumCPU(),
//	  QueueCapacity:  256,
//	  TimeoutSecond:  5,
//	  LogLevel:       "info",
//	}
//
//	s, err := server.NewRPCServer(config, http.NewHttpServerTransport(), http.NewHttpClientTransport())
//	if err != nil {
//	  log.Fatalf("invalid config: %v", err)
//	}
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Forwarding:
//
//	A forwarded request carries the X-Dht-Forwarded header and is always served
//	by the receiving node, so a request is forwarded at most once. The header is
//	trusted as is: a client that sets it makes a node store a key it does not own.
//	Nodes must therefore only be reachable on a closed cluster network, or the
//	header has to be stripped by a proxy in front of the cluster.
//
// If MetricsEndpoint is set, /metrics (prometheus) and /info (json) are served there.
//
// Thread Safety:
//
//	Requests are processed concurrently by the pool workers. Start and Shutdown
//	are idempotent, Serve should be called only once.
package server

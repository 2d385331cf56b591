// Package client implements the client side of the node api.
//
// Key Components:
//
//   - Forwarder: Used by a node to relay a request to the node that owns its key.
//     The request is marked as forwarded, so the target serves it locally even if
//     its view of the cluster differs. All URLs of the target are tried in order
//     while the failure is FailureUnreachable. The status of the target is relayed,
//     the body only for a successful GET.
//
//   - RPC Store: An implementation of store.IStore that talks to any node of the
//     cluster over a client transport. Used by the command line client.
//
// Example:
//
//	s, err := client.NewRPCStore(
//		common.ClientConfig{Endpoints: []string{"http://localhost:8080"}, TimeoutSecond: 5, RetryCount: 2},
//		http.NewHttpClientTransport(),
//	)
//	err = s.Put("key", []byte("value"))
//	value, ok, err := s.Get("key")
package client

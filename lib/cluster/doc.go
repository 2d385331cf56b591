// Package cluster maps keys to the node that owns them.
//
// The member list is static configuration and identical on every node, there is
// no membership protocol. Routing is a pure function of the key and the set of
// node IDs (rendezvous hashing with github.com/cespare/xxhash/v2), so every node
// computes the same owner without coordination. When a node is added or removed,
// only the keys of that node move.
//
// A Node may be reachable under several equivalent URLs. A node recognises
// itself by comparing its configured self URL with the URLs of the owner
// (IsSelf).
package cluster

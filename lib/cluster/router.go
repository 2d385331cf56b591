package cluster

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrNoNodes is returned when a key is routed over an empty node list
var ErrNoNodes = errors.New("cluster: no nodes")

// --------------------------------------------------------------------------
// Routing Function
// --------------------------------------------------------------------------

// OwnerOf returns the node that owns key.
//
// Ownership uses rendezvous (highest random weight) hashing: every node gets the
// score xxhash(node.ID, 0x00, key) and the highest score wins, equal scores are
// decided by the smaller ID. The result only depends on the set of node IDs, the
// order of the list does not matter. xxhash is unseeded, so every process of the
// cluster computes the same owner.
func OwnerOf(key string, nodes []Node) (Node, error) {
	if len(nodes) == 0 {
		return Node{}, ErrNoNodes
	}

	best := 0
	bestScore := score(nodes[0].ID, key)
	for i := 1; i < len(nodes); i++ {
		s := score(nodes[i].ID, key)
		if s > bestScore || (s == bestScore && nodes[i].ID < nodes[best].ID) {
			best, bestScore = i, s
		}
	}
	return nodes[best], nil
}

// score computes the rendezvous weight of key on the node with the given id
func score(id, key string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(id)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key)
	return d.Sum64()
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// Router routes keys over a fixed member list.
// The list is copied on creation and never changes afterward.
//
// Thread-safety: All methods are safe for concurrent use.
type Router struct {
	nodes []Node
}

// NewRouter creates a router for nodes. The list must not be empty and IDs must be unique.
func NewRouter(nodes []Node) (*Router, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	seen := make(map[string]struct{}, len(nodes))
	copied := make([]Node, len(nodes))
	for i, n := range nodes {
		if _, ok := seen[n.ID]; ok {
			return nil, fmt.Errorf("cluster: duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		copied[i] = Node{ID: n.ID, URLs: append([]string(nil), n.URLs...)}
	}

	return &Router{nodes: copied}, nil
}

// OwnerOf returns the node owning key
func (r *Router) OwnerOf(key string) Node {
	// the list is never empty
	owner, _ := OwnerOf(key, r.nodes)
	return owner
}

// Nodes returns a copy of the member list
func (r *Router) Nodes() []Node {
	nodes := make([]Node, len(r.nodes))
	copy(nodes, r.nodes)
	return nodes
}

// Lookup returns the member that has u as one of its endpoints
func (r *Router) Lookup(u string) (Node, bool) {
	for _, n := range r.nodes {
		if n.HasURL(u) {
			return n, true
		}
	}
	return Node{}, false
}

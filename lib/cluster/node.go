package cluster

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is a member of the cluster. All URLs of a node are equivalent endpoints
// of the same process, ownership is decided by the ID.
type Node struct {
	ID   string   `json:"id"`
	URLs []string `json:"urls"`
}

// HasURL reports whether u is one of the endpoints of the node.
// Scheme and host are compared case-insensitively, a trailing slash is ignored.
func (n Node) HasURL(u string) bool {
	want := NormalizeURL(u)
	for _, nodeURL := range n.URLs {
		if NormalizeURL(nodeURL) == want {
			return true
		}
	}
	return false
}

// String returns the node in the member list format (id=url1|url2)
func (n Node) String() string {
	return n.ID + "=" + strings.Join(n.URLs, "|")
}

// IsSelf reports whether node is the process reachable at selfURL
func IsSelf(node Node, selfURL string) bool {
	return node.HasURL(selfURL)
}

// NormalizeURL returns u with lower-case scheme and host and without trailing slashes.
// Strings that are not URLs are only trimmed.
func NormalizeURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return u
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String()
}

// --------------------------------------------------------------------------
// Member List Parsing
// --------------------------------------------------------------------------

// ParseMembers parses a comma separated member list.
// Each member is either a single url (the url is also the ID) or
// id=url1|url2 for a node with several equivalent endpoints:
//
//	http://10.0.0.1:8080,http://10.0.0.2:8080
//	node-1=http://10.0.0.1:8080|http://node-1:8080,node-2=http://10.0.0.2:8080
func ParseMembers(s string) ([]Node, error) {
	var nodes []Node
	seen := make(map[string]struct{})

	for _, member := range strings.Split(s, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}

		var node Node
		if id, urls, found := strings.Cut(member, "="); found {
			node.ID = strings.TrimSpace(id)
			for _, u := range strings.Split(urls, "|") {
				if u = strings.TrimSpace(u); u != "" {
					node.URLs = append(node.URLs, NormalizeURL(u))
				}
			}
		} else {
			node.ID = NormalizeURL(member)
			node.URLs = []string{node.ID}
		}

		if err := node.validate(); err != nil {
			return nil, fmt.Errorf("invalid cluster member %q: %w", member, err)
		}
		if _, ok := seen[node.ID]; ok {
			return nil, fmt.Errorf("duplicate cluster member id %q", node.ID)
		}
		seen[node.ID] = struct{}{}
		nodes = append(nodes, node)
	}

	if len(nodes) == 0 {
		return nil, errors.New("cluster member list is empty")
	}
	return nodes, nil
}

// validate checks that the node has an ID and only absolute http(s) URLs
func (n Node) validate() error {
	if n.ID == "" {
		return errors.New("missing id")
	}
	if len(n.URLs) == 0 {
		return errors.New("missing url")
	}
	for _, u := range n.URLs {
		parsed, err := url.Parse(u)
		if err != nil {
			return err
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("url %q must use http or https", u)
		}
		if parsed.Host == "" {
			return fmt.Errorf("url %q has no host", u)
		}
	}
	return nil
}

package server

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/rpc/common"
	httpTransport "github.com/ValentinKolb/dht/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type testNode struct {
	url      string
	listener net.Listener
	server   *RPCServer
}

// listenNodes reserves a loopback listener per node
func listenNodes(t *testing.T, n int) ([]*testNode, []cluster.Node) {
	t.Helper()
	nodes := make([]*testNode, n)
	members := make([]cluster.Node, n)
	for i := range nodes {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		u := "http://" + listener.Addr().String()
		nodes[i] = &testNode{url: u, listener: listener}
		members[i] = cluster.Node{ID: fmt.Sprintf("node-%d", i), URLs: []string{u}}
	}
	return nodes, members
}

// startNode starts the server of node and serves its listener until the test ends
func startNode(t *testing.T, node *testNode, members []cluster.Node) {
	t.Helper()

	config := common.ServerConfig{
		Endpoint:            node.listener.Addr().String(),
		SelfURL:             node.url,
		ClusterMembers:      members,
		DataDir:             t.TempDir(),
		FlushThresholdBytes: 1 << 10,
		Workers:             4,
		QueueCapacity:       64,
		TimeoutSecond:       2,
		LogLevel:            "info",
	}

	transport := httpTransport.NewHttpServerTransport()
	server, err := NewRPCServer(config, transport, httpTransport.NewHttpClientTransport())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	node.server = server

	done := make(chan error, 1)
	go func() { done <- transport.Serve(node.listener) }()

	t.Cleanup(func() {
		assert.NoError(t, server.Shutdown())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("transport did not stop")
		}
	})
}

func entityURL(base, id string) string {
	return base + common.EntityPath + "?" + url.Values{common.IDParam: {id}}.Encode()
}

// do performs a request and returns status and body
func do(t *testing.T, method, target string, body []byte) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSingleNodeLifecycle(t *testing.T) {
	nodes, members := listenNodes(t, 1)
	startNode(t, nodes[0], members)
	base := nodes[0].url

	status, _ := do(t, http.MethodPut, entityURL(base, "k"), []byte("1"))
	assert.Equal(t, http.StatusCreated, status)

	status, body := do(t, http.MethodGet, entityURL(base, "k"), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)

	status, _ = do(t, http.MethodDelete, entityURL(base, "k"), nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, body = do(t, http.MethodGet, entityURL(base, "k"), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, body)

	status, _ = do(t, http.MethodGet, entityURL(base, "never-written"), nil)
	assert.Equal(t, http.StatusNotFound, status)

	// deleting a missing key is accepted as well
	status, _ = do(t, http.MethodDelete, entityURL(base, "never-written"), nil)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestSingleNodeInvalidRequests(t *testing.T) {
	nodes, members := listenNodes(t, 1)
	startNode(t, nodes[0], members)
	base := nodes[0].url

	status, _ := do(t, http.MethodGet, base+common.EntityPath, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPut, base+common.EntityPath+"?id=", []byte("v"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodGet, base+"/v0/status", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, entityURL(base, "k"), []byte("v"))
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestSingleNodeEmptyAndLargeValues(t *testing.T) {
	nodes, members := listenNodes(t, 1)
	startNode(t, nodes[0], members)
	base := nodes[0].url

	status, _ := do(t, http.MethodPut, entityURL(base, "empty"), []byte{})
	require.Equal(t, http.StatusCreated, status)
	status, body := do(t, http.MethodGet, entityURL(base, "empty"), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	// larger than the flush threshold, the value ends up in a segment
	large := strings.Repeat("x", 8<<10)
	status, _ = do(t, http.MethodPut, entityURL(base, "large"), []byte(large))
	require.Equal(t, http.StatusCreated, status)
	status, body = do(t, http.MethodGet, entityURL(base, "large"), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, large, body)
}

func TestClusterForwardsToOwner(t *testing.T) {
	nodes, members := listenNodes(t, 3)
	for _, n := range nodes {
		startNode(t, n, members)
	}

	keys := make([]string, 30)
	for i := range keys {
		keys[i] = fmt.Sprintf("entity-%d", i)
	}

	// every key is written through a different node
	for i, key := range keys {
		status, _ := do(t, http.MethodPut, entityURL(nodes[i%len(nodes)].url, key), []byte("v-"+key))
		require.Equal(t, http.StatusCreated, status, key)
	}

	// any node answers for any key
	for _, key := range keys {
		for _, n := range nodes {
			status, body := do(t, http.MethodGet, entityURL(n.url, key), nil)
			assert.Equal(t, http.StatusOK, status, key)
			assert.Equal(t, "v-"+key, body, key)
		}
	}

	// each key is stored only on its owner
	for _, key := range keys {
		owner, err := cluster.OwnerOf(key, members)
		require.NoError(t, err)
		for i, n := range nodes {
			_, loaded, err := n.server.store.Get(key)
			require.NoError(t, err)
			assert.Equal(t, members[i].ID == owner.ID, loaded, "key %s on %s", key, members[i].ID)
		}
	}

	// delete through a non owner
	key := keys[0]
	owner, err := cluster.OwnerOf(key, members)
	require.NoError(t, err)
	for i, n := range nodes {
		if members[i].ID != owner.ID {
			status, _ := do(t, http.MethodDelete, entityURL(n.url, key), nil)
			assert.Equal(t, http.StatusAccepted, status)
			break
		}
	}
	for _, n := range nodes {
		status, _ := do(t, http.MethodGet, entityURL(n.url, key), nil)
		assert.Equal(t, http.StatusNotFound, status)
	}
}

func TestClusterOwnerDown(t *testing.T) {
	nodes, members := listenNodes(t, 2)
	startNode(t, nodes[0], members)
	// the second member never starts
	require.NoError(t, nodes[1].listener.Close())

	var key string
	for i := 0; ; i++ {
		key = fmt.Sprintf("k-%d", i)
		owner, err := cluster.OwnerOf(key, members)
		require.NoError(t, err)
		if owner.ID == members[1].ID {
			break
		}
	}

	status, body := do(t, http.MethodGet, entityURL(nodes[0].url, key), nil)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Empty(t, body)
}

func TestMetricsEndpoint(t *testing.T) {
	nodes, members := listenNodes(t, 1)

	metricsListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsAddr := metricsListener.Addr().String()
	require.NoError(t, metricsListener.Close())

	config := common.ServerConfig{
		Endpoint:            nodes[0].listener.Addr().String(),
		SelfURL:             nodes[0].url,
		ClusterMembers:      members,
		DataDir:             t.TempDir(),
		FlushThresholdBytes: 1 << 20,
		Workers:             1,
		QueueCapacity:       1,
		TimeoutSecond:       1,
		MetricsEndpoint:     metricsAddr,
	}
	transport := httpTransport.NewHttpServerTransport()
	server, err := NewRPCServer(config, transport, httpTransport.NewHttpClientTransport())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	go func() { _ = transport.Serve(nodes[0].listener) }()
	defer func() { assert.NoError(t, server.Shutdown()) }()

	status, _ := do(t, http.MethodPut, entityURL(nodes[0].url, "k"), []byte("v"))
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, http.MethodGet, "http://"+metricsAddr+"/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `dht_requests_total{outcome="local"} 1`)
	assert.Contains(t, body, `dht_responses_total{status="201"} 1`)

	status, body = do(t, http.MethodGet, "http://"+metricsAddr+"/info", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"self_url"`)
	assert.Contains(t, body, `"submitted":1`)
}

func TestNewRPCServerValidatesConfig(t *testing.T) {
	_, err := NewRPCServer(common.ServerConfig{}, httpTransport.NewHttpServerTransport(), httpTransport.NewHttpClientTransport())
	assert.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	nodes, members := listenNodes(t, 1)
	require.NoError(t, nodes[0].listener.Close())

	server, err := NewRPCServer(common.ServerConfig{
		Endpoint:            "127.0.0.1:0",
		SelfURL:             nodes[0].url,
		ClusterMembers:      members,
		DataDir:             t.TempDir(),
		FlushThresholdBytes: 1 << 20,
		Workers:             1,
		QueueCapacity:       1,
		TimeoutSecond:       1,
	}, httpTransport.NewHttpServerTransport(), httpTransport.NewHttpClientTransport())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	require.NoError(t, server.Start())

	assert.NoError(t, server.Shutdown())
	assert.NoError(t, server.Shutdown())
}

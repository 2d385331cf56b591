package http

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// startServer serves handler on a random loopback port and returns its url
func startServer(t *testing.T, handler transport.ServerHandleFunc) (transport.IRPCServerTransport, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewHttpServerTransport()
	server.RegisterHandler(handler)

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	t.Cleanup(func() {
		_ = server.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return server, "http://" + listener.Addr().String()
}

func newClient(t *testing.T, timeoutSecond int, endpoints ...string) transport.IRPCClientTransport {
	t.Helper()
	client := NewHttpClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		Endpoints:     endpoints,
		TimeoutSecond: timeoutSecond,
		RetryCount:    2,
	}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// unusedURL returns the url of a port nobody listens on
func unusedURL(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return "http://" + addr
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	var received atomic.Pointer[common.Request]
	_, url := startServer(t, func(req *common.Request, sink common.ResponseSink) {
		received.Store(req)
		sink.Send(common.Response{Status: http.StatusCreated, Body: append([]byte("echo:"), req.Body...)})
		// later sends are ignored
		sink.Send(common.NewResponse(http.StatusTeapot))
	})

	client := newClient(t, 5, url)
	req := common.NewEntityRequest(http.MethodPut, "a b/c", []byte("value"))
	req.Forwarded = true

	resp, err := client.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "echo:value", string(resp.Body))

	got := received.Load()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, common.EntityPath, got.Path)
	id, ok := got.ID()
	assert.True(t, ok)
	assert.Equal(t, "a b/c", id)
	assert.True(t, got.Forwarded)
}

func TestAsyncResponse(t *testing.T) {
	_, url := startServer(t, func(req *common.Request, sink common.ResponseSink) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			sink.Send(common.NewResponse(http.StatusAccepted))
		}()
	})

	resp, err := newClient(t, 5).SendTo(context.Background(), url, common.NewEntityRequest(http.MethodDelete, "k", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestRoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	_, urlA := startServer(t, func(_ *common.Request, sink common.ResponseSink) {
		hitsA.Add(1)
		sink.Send(common.NewResponse(http.StatusOK))
	})
	_, urlB := startServer(t, func(_ *common.Request, sink common.ResponseSink) {
		hitsB.Add(1)
		sink.Send(common.NewResponse(http.StatusOK))
	})

	client := newClient(t, 5, urlA, urlB)
	for i := 0; i < 10; i++ {
		_, err := client.Send(context.Background(), common.NewEntityRequest(http.MethodGet, "k", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), hitsA.Load())
	assert.Equal(t, int32(5), hitsB.Load())
}

func TestBadAddress(t *testing.T) {
	client := newClient(t, 1)
	req := common.NewEntityRequest(http.MethodGet, "k", nil)

	for _, endpoint := range []string{"://missing-scheme", "ftp://host:21", "http://", "localhost:8080"} {
		_, err := client.SendTo(context.Background(), endpoint, req)
		require.Error(t, err, endpoint)
		assert.Equal(t, common.FailureBadAddress, common.KindOf(err), endpoint)
	}

	assert.Error(t, NewHttpClientTransport().Connect(common.ClientConfig{Endpoints: []string{"no-scheme"}}))
}

func TestUnreachable(t *testing.T) {
	client := newClient(t, 1)
	_, err := client.SendTo(context.Background(), unusedURL(t), common.NewEntityRequest(http.MethodGet, "k", nil))
	require.Error(t, err)
	assert.Equal(t, common.FailureUnreachable, common.KindOf(err))
}

func TestTimeoutIsUnreachable(t *testing.T) {
	_, url := startServer(t, func(_ *common.Request, _ common.ResponseSink) {
		// never answers
	})

	client := newClient(t, 1, url)
	start := time.Now()
	_, err := client.Send(context.Background(), common.NewEntityRequest(http.MethodGet, "k", nil))
	require.Error(t, err)
	assert.Equal(t, common.FailureUnreachable, common.KindOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCanceledContextIsInterrupted(t *testing.T) {
	_, url := startServer(t, func(_ *common.Request, _ common.ResponseSink) {})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := newClient(t, 10).SendTo(ctx, url, common.NewEntityRequest(http.MethodGet, "k", nil))
	require.Error(t, err)
	assert.Equal(t, common.FailureInterrupted, common.KindOf(err))
}

func TestCloseForceClosesOpenConnections(t *testing.T) {
	server, url := startServer(t, func(_ *common.Request, _ common.ResponseSink) {
		// the response never arrives
	})

	client := newClient(t, 30)
	errs := make(chan error, 1)
	go func() {
		_, err := client.SendTo(context.Background(), url, common.NewEntityRequest(http.MethodGet, "k", nil))
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return server.OpenConnections() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Close())

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Equal(t, common.FailureUnreachable, common.KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("client still waiting after close")
	}
	assert.Eventually(t, func() bool {
		return server.OpenConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeWithoutHandler(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, NewHttpServerTransport().Serve(listener))
}

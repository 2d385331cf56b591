package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		parsedURL, err := parseEndpoint(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second

	// Create client with a pooled transport
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	t.client = client
	t.serverURLs = parsedURLs
	t.counter.Store(0)
	t.retryCount = config.RetryCount

	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, req *common.Request) (common.Response, error) {
	if t.client == nil {
		return common.Response{}, common.Errorf(common.FailureInternal, "http transport not initialized")
	}
	if len(t.serverURLs) == 0 {
		return common.Response{}, common.Errorf(common.FailureBadAddress, "no endpoints configured")
	}

	// Select the next server via round-robin
	idx := t.counter.Add(1) % uint32(len(t.serverURLs))
	return t.send(ctx, t.serverURLs[idx], req)
}

func (t *httpClientTransport) SendTo(ctx context.Context, endpoint string, req *common.Request) (common.Response, error) {
	if t.client == nil {
		return common.Response{}, common.Errorf(common.FailureInternal, "http transport not initialized")
	}

	serverURL, err := parseEndpoint(endpoint)
	if err != nil {
		return common.Response{}, err
	}
	return t.send(ctx, serverURL, req)
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	t.client = nil
	t.serverURLs = nil

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// parseEndpoint parses an absolute http(s) url. Anything else is a bad address.
func parseEndpoint(endpoint string) (*url.URL, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, common.NewError(common.FailureBadAddress, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, common.Errorf(common.FailureBadAddress, "endpoint %q must use http or https", endpoint)
	}
	if parsed.Host == "" {
		return nil, common.Errorf(common.FailureBadAddress, "endpoint %q has no host", endpoint)
	}
	return parsed, nil
}

// send sends req to serverURL, unreachable targets are retried
func (t *httpClientTransport) send(ctx context.Context, serverURL *url.URL, req *common.Request) (common.Response, error) {
	attempts := t.retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		var resp common.Response
		resp, err = t.sendOnce(ctx, serverURL, req)
		if err == nil {
			return resp, nil
		}
		if common.KindOf(err) != common.FailureUnreachable {
			return common.Response{}, err
		}
		Logger.Debugf("attempt %d/%d to %s failed: %v", i+1, attempts, serverURL, err)
	}
	return common.Response{}, err
}

// sendOnce performs a single http round trip
func (t *httpClientTransport) sendOnce(ctx context.Context, serverURL *url.URL, req *common.Request) (common.Response, error) {
	target := *serverURL
	target.Path = strings.TrimRight(serverURL.Path, "/") + req.Path
	target.RawPath = ""
	target.RawQuery = req.Params.Encode()

	httpRequest, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return common.Response{}, common.NewError(common.FailureBadAddress, err)
	}
	if req.Forwarded {
		httpRequest.Header.Set(common.ForwardedHeader, "1")
	}

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return common.Response{}, classify(ctx, err)
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return common.Response{}, classify(ctx, err)
	}

	return common.Response{Status: httpResponse.StatusCode, Body: body}, nil
}

// classify maps a round trip error to a failure kind.
// A canceled caller context is an interruption, everything else
// (connection refused, dns, timeouts) means the target is unreachable.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return common.NewError(common.FailureInterrupted, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		return common.NewError(common.FailureBadAddress, err)
	}
	return common.NewError(common.FailureUnreachable, fmt.Errorf("request failed: %w", err))
}

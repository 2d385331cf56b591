package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	// maxBodyBytes limits the size of a request body
	maxBodyBytes = 64 << 20
	// requestIDHeader carries the request id assigned by the debug middleware
	requestIDHeader = "X-Request-Id"
)

func NewHttpServerTransport() transport.IRPCServerTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &httpServerTransport{
		baseCtx:    ctx,
		cancelBase: cancel,
		conns:      xsync.NewMapOf[net.Conn, http.ConnState](),
	}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	debug   bool

	// every request context derives from baseCtx, Close cancels it
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	server *http.Server
	closed bool

	conns *xsync.MapOf[net.Conn, http.ConnState]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	t.debug = strings.EqualFold(config.LogLevel, "debug")

	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return err
	}

	Logger.Infof("Starting HTTP server on %s", listener.Addr())
	return t.Serve(listener)
}

func (t *httpServerTransport) Serve(listener net.Listener) error {
	if t.handler == nil {
		_ = listener.Close()
		return errors.New("no handler registered")
	}

	var handler http.Handler = http.HandlerFunc(t.handleRequest)
	if t.debug {
		handler = loggerMiddleware(handler)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return t.baseCtx },
		ConnState:         t.trackConn,
	}
	server := t.server
	t.mu.Unlock()

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpServerTransport) OpenConnections() int {
	return t.conns.Size()
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	t.mu.Unlock()

	// abandon every request that is still waiting for a response
	t.cancelBase()

	var err error
	if server != nil {
		err = server.Close()
	}

	// force close whatever the server did not close itself
	forced := 0
	t.conns.Range(func(conn net.Conn, _ http.ConnState) bool {
		_ = conn.Close()
		t.conns.Delete(conn)
		forced++
		return true
	})
	if forced > 0 {
		Logger.Infof("force closed %d connections", forced)
	}

	Logger.Infof("HTTP server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// trackConn records the state of every client connection
func (t *httpServerTransport) trackConn(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateClosed, http.StateHijacked:
		t.conns.Delete(conn)
	default:
		t.conns.Store(conn, state)
	}
}

// handleRequest decodes the request, hands it to the handler and writes the response
// once it arrives on the sink
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	req := &common.Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Params:    r.URL.Query(),
		Body:      body,
		Forwarded: r.Header.Get(common.ForwardedHeader) != "",
	}

	sink := newChanSink()
	t.handler(req, sink)

	select {
	case resp := <-sink.ch:
		writeResponse(w, resp)
	case <-r.Context().Done():
		// client disconnected or transport closed
	}
}

// writeResponse writes status and body of resp
func writeResponse(w http.ResponseWriter, resp common.Response) {
	if len(resp.Body) > 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			Logger.Debugf("Failed to write response: %v", err)
		}
	}
}

// chanSink delivers the first response to a buffered channel
type chanSink struct {
	once sync.Once
	ch   chan common.Response
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan common.Response, 1)}
}

func (s *chanSink) Send(resp common.Response) {
	s.once.Do(func() {
		s.ch <- resp
	})
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that tags every request with an id and logs it
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		Logger.Debugf("[%s] %s %s?%s forwarded=%t => %d took %s",
			requestID, r.Method, r.URL.Path, r.URL.RawQuery,
			r.Header.Get(common.ForwardedHeader) != "", rw.statusCode, duration)
	})
}

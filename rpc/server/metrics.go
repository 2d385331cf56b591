package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
)

// request outcomes of the dispatcher
const (
	outcomeLocal     = "local"
	outcomeForwarded = "forwarded"
	outcomeInvalid   = "invalid"
	outcomeRejected  = "rejected"
)

// serverMetrics holds the metrics of one server. Every server has its own
// metrics.Set, so several servers can live in one process (tests).
type serverMetrics struct {
	set             *metrics.Set
	forwardDuration *metrics.Histogram
}

func newServerMetrics(pool *WorkerPool, transport transport.IRPCServerTransport) *serverMetrics {
	set := metrics.NewSet()

	set.NewGauge("dht_queue_length", func() float64 {
		return float64(pool.Len())
	})
	set.NewGauge("dht_open_connections", func() float64 {
		return float64(transport.OpenConnections())
	})
	set.NewGauge("dht_pool_panics", func() float64 {
		return float64(pool.Stats().Panics)
	})

	return &serverMetrics{
		set:             set,
		forwardDuration: set.NewHistogram("dht_forward_duration_seconds"),
	}
}

// countRequest counts a request by the way it was handled
func (m *serverMetrics) countRequest(outcome string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dht_requests_total{outcome=%q}`, outcome)).Inc()
}

// countResponse counts a response by its status
func (m *serverMetrics) countResponse(status int) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dht_responses_total{status="%d"}`, status)).Inc()
}

// observeForward starts a forward measurement, the returned func records it
func (m *serverMetrics) observeForward() func() {
	start := time.Now()
	return func() {
		m.forwardDuration.UpdateDuration(start)
	}
}

// --------------------------------------------------------------------------
// Metrics endpoint
// --------------------------------------------------------------------------

// nodeInfo is the document served on /info
type nodeInfo struct {
	SelfURL  string          `json:"self_url"`
	Pool     PoolStats       `json:"pool"`
	Database db.DatabaseInfo `json:"database"`
}

// startMetricsServer serves /metrics (prometheus text format) and /info (json)
// on endpoint. It returns once the listener is bound.
func (s *RPCServer) startMetricsServer(endpoint string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.metrics.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, _ *http.Request) {
		info := nodeInfo{
			SelfURL: s.config.SelfURL,
			Pool:    s.pool.Stats(),
		}
		if dbInfo, err := s.store.GetDBInfo(); err == nil {
			info.Database = dbInfo
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			Logger.Warningf("failed to encode node info: %v", err)
		}
	})

	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint %s: %w", endpoint, err)
	}

	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics server failed: %v", err)
		}
	}()

	Logger.Infof("Serving metrics on %s", listener.Addr())
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/lib/db/engines/lsm"
	"github.com/ValentinKolb/dht/lib/store"
	"github.com/ValentinKolb/dht/lib/store/lstore"
	"github.com/ValentinKolb/dht/rpc/client"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new node.
// transport serves the http api, forwardTransport is used to reach the other members.
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		http.NewHttpClientTransport(),
//	)
//	if err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	forwardTransport transport.IRPCClientTransport,
) (*RPCServer, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return &RPCServer{
		config:           config,
		transport:        transport,
		forwardTransport: forwardTransport,
	}, nil
}

// RPCServer is a single node of the cluster.
//
// Lifecycle: NewRPCServer → Start → (transport serving) → Shutdown.
// Serve combines all of these and blocks until the process is signaled.
type RPCServer struct {
	config           common.ServerConfig
	transport        transport.IRPCServerTransport
	forwardTransport transport.IRPCClientTransport

	store         store.IStore
	router        *cluster.Router
	pool          *WorkerPool
	dispatcher    *Dispatcher
	metrics       *serverMetrics
	metricsServer *http.Server

	startOnce    sync.Once
	startErr     error
	shutdownOnce sync.Once
	shutdownErr  error
}

// Start opens the store, starts the worker pool and registers the request handler
// on the transport. It does not listen, the caller serves the transport afterward.
// Calling Start more than once returns the result of the first call.
func (s *RPCServer) Start() error {
	s.startOnce.Do(func() {
		s.startErr = s.init()
	})
	return s.startErr
}

func (s *RPCServer) init() error {
	router, err := cluster.NewRouter(s.config.ClusterMembers)
	if err != nil {
		return err
	}
	s.router = router

	// Function to create the database instance of this node
	dbFactory := func() (db.KVDB, error) {
		opts := lsm.DefaultOptions(s.config.DataDir)
		opts.FlushThresholdBytes = s.config.FlushThresholdBytes
		return lsm.Open(opts)
	}

	s.store, err = lstore.NewLocalStore(dbFactory)
	if err != nil {
		return fmt.Errorf("failed to open store in %s: %w", s.config.DataDir, err)
	}
	Logger.Infof("opened local store in %s", s.config.DataDir)

	forwarder, err := client.NewForwarder(common.ClientConfig{
		TimeoutSecond: int(s.config.TimeoutSecond),
		RetryCount:    1,
	}, s.forwardTransport)
	if err != nil {
		_ = s.store.Close()
		s.store = nil
		return fmt.Errorf("failed to create forwarder: %w", err)
	}

	s.pool = NewWorkerPool(s.config.Workers, s.config.QueueCapacity)
	s.metrics = newServerMetrics(s.pool, s.transport)
	s.dispatcher = NewDispatcher(
		s.config.SelfURL,
		router,
		s.pool,
		&LocalHandler{Store: s.store},
		forwarder,
		s.metrics,
	)

	if s.config.MetricsEndpoint != "" {
		if err := s.startMetricsServer(s.config.MetricsEndpoint); err != nil {
			_ = s.store.Close()
			_ = s.forwardTransport.Close()
			s.store = nil
			return err
		}
	}

	s.pool.Start()

	// Configure the transport layer
	s.transport.RegisterHandler(s.dispatcher.Dispatch)

	Logger.Infof("node %s ready (%d members, %d workers, queue capacity %d)",
		s.config.SelfURL, len(router.Nodes()), s.config.Workers, s.config.QueueCapacity)
	return nil
}

// Serve starts the node and serves the transport until SIGINT/SIGTERM
// or until the transport fails. The node is shut down before Serve returns.
func (s *RPCServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.transport.Listen(s.config)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var serveErr error
	select {
	case sig := <-signals:
		Logger.Infof("received %s, shutting down", sig)
	case serveErr = <-listenErr:
		if serveErr != nil {
			Logger.Errorf("transport failed: %v", serveErr)
		}
	}

	return errors.Join(serveErr, s.Shutdown())
}

// Shutdown stops the node: the transport is closed first (pending requests are
// abandoned), then the pool discards queued work and finally the store is closed.
// Calling Shutdown more than once returns the result of the first call.
func (s *RPCServer) Shutdown() error {
	s.shutdownOnce.Do(func() {
		start := time.Now()
		var errs []error

		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transport: %w", err))
		}

		if s.pool != nil {
			s.pool.Stop()
		}

		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.metricsServer.Shutdown(ctx); err != nil {
				_ = s.metricsServer.Close()
			}
			cancel()
		}

		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing store: %w", err))
			}
			if err := s.forwardTransport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing forward transport: %w", err))
			}
		}

		s.shutdownErr = errors.Join(errs...)
		if s.shutdownErr != nil {
			Logger.Errorf("shutdown finished with errors after %s: %v", time.Since(start), s.shutdownErr)
		} else {
			Logger.Infof("shutdown finished after %s", time.Since(start))
		}
	})
	return s.shutdownErr
}

package server

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/rpc/client"
	"github.com/ValentinKolb/dht/rpc/common"
)

// Dispatcher decides how a request is answered and runs the work on the pool.
//
// Invalid requests are rejected right away. Everything else is queued: a full
// queue answers 503 and never touches already queued requests.
//
// Thread-safety: Dispatch can be called concurrently.
type Dispatcher struct {
	selfURL   string
	router    *cluster.Router
	pool      *WorkerPool
	local     Handler
	forwarder client.Forwarder
	metrics   *serverMetrics
}

// NewDispatcher creates a dispatcher. local serves keys owned by the node at selfURL,
// all other keys are forwarded with forwarder.
func NewDispatcher(
	selfURL string,
	router *cluster.Router,
	pool *WorkerPool,
	local Handler,
	forwarder client.Forwarder,
	metrics *serverMetrics,
) *Dispatcher {
	return &Dispatcher{
		selfURL:   selfURL,
		router:    router,
		pool:      pool,
		local:     local,
		forwarder: forwarder,
		metrics:   metrics,
	}
}

// Dispatch answers req on sink. It never blocks on the work itself.
func (d *Dispatcher) Dispatch(req *common.Request, sink common.ResponseSink) {
	if status, ok := validate(req); !ok {
		d.countRequest(outcomeInvalid)
		d.respond(sink, (&RejectHandler{Status: status}).Handle(context.Background(), req))
		return
	}

	submitted := d.pool.TrySubmit(func(ctx context.Context) {
		handler, outcome := d.handlerFor(req)
		d.countRequest(outcome)
		d.respond(sink, d.safeHandle(ctx, handler, req))
	})
	if !submitted {
		d.countRequest(outcomeRejected)
		Logger.Debugf("queue full, rejecting %s %s", req.Method, req.Path)
		d.respond(sink, (&RejectHandler{Status: common.FailureRejected.Status()}).Handle(context.Background(), req))
	}
}

// handlerFor picks the handler for a valid request
func (d *Dispatcher) handlerFor(req *common.Request) (Handler, string) {
	// a forwarded request is never forwarded again
	if req.Forwarded {
		return d.local, outcomeLocal
	}

	id, _ := req.ID()
	owner := d.router.OwnerOf(id)
	if cluster.IsSelf(owner, d.selfURL) {
		return d.local, outcomeLocal
	}

	Logger.Debugf("forwarding key %q to %s", id, owner.ID)
	return &ForwardHandler{
		Forwarder: d.forwarder,
		Target:    owner,
		metrics:   d.metrics,
	}, outcomeForwarded
}

// safeHandle runs handler, a panic becomes a 500
func (d *Dispatcher) safeHandle(ctx context.Context, handler Handler, req *common.Request) (resp common.Response) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("handler panicked on %s %s: %v\n%s", req.Method, req.Path, r, debug.Stack())
			resp = common.NewResponse(http.StatusInternalServerError)
		}
	}()
	return handler.Handle(ctx, req)
}

func (d *Dispatcher) respond(sink common.ResponseSink, resp common.Response) {
	if d.metrics != nil {
		d.metrics.countResponse(resp.Status)
	}
	sink.Send(resp)
}

func (d *Dispatcher) countRequest(outcome string) {
	if d.metrics != nil {
		d.metrics.countRequest(outcome)
	}
}

// validate checks path, method and id of req.
// It returns the status to answer with if the request is invalid.
//
//	other path,  GET/PUT            → 400
//	other path,  any other method   → 405
//	entity path, not GET/PUT/DELETE → 405
//	entity path, missing/blank id   → 400
func validate(req *common.Request) (int, bool) {
	if req.Path != common.EntityPath {
		switch req.Method {
		case http.MethodGet, http.MethodPut:
			return http.StatusBadRequest, false
		default:
			return http.StatusMethodNotAllowed, false
		}
	}

	switch req.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		return http.StatusMethodNotAllowed, false
	}

	if _, ok := req.ID(); !ok {
		return http.StatusBadRequest, false
	}
	return 0, true
}

package server

import (
	"context"
	"net/http"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/lib/store"
	"github.com/ValentinKolb/dht/rpc/client"
	"github.com/ValentinKolb/dht/rpc/common"
)

// --------------------------------------------------------------------------
// Local
// --------------------------------------------------------------------------

// LocalHandler serves a request from the local store
type LocalHandler struct {
	Store store.IStore
}

func (h *LocalHandler) Handle(_ context.Context, req *common.Request) common.Response {
	id, ok := req.ID()
	if !ok {
		return common.NewResponse(http.StatusBadRequest)
	}

	switch req.Method {
	case http.MethodGet:
		value, loaded, err := h.Store.Get(id)
		if err != nil {
			return storageFailure(req, err)
		}
		if !loaded {
			return common.NewResponse(http.StatusNotFound)
		}
		return common.Response{Status: http.StatusOK, Body: value}

	case http.MethodPut:
		if err := h.Store.Put(id, req.Body); err != nil {
			return storageFailure(req, err)
		}
		return common.NewResponse(http.StatusCreated)

	case http.MethodDelete:
		if err := h.Store.Delete(id); err != nil {
			return storageFailure(req, err)
		}
		return common.NewResponse(http.StatusAccepted)

	default:
		return common.NewResponse(http.StatusMethodNotAllowed)
	}
}

// storageFailure logs err and returns a 500 carrying the error message
func storageFailure(req *common.Request, err error) common.Response {
	failure := common.NewError(common.FailureStorage, err)
	Logger.Errorf("%s %s?%s: %v", req.Method, req.Path, req.Params.Encode(), failure)
	return common.NewTextResponse(failure.Kind.Status(), "%v", err)
}

// --------------------------------------------------------------------------
// Forward
// --------------------------------------------------------------------------

// ForwardHandler relays a request to the node owning its key
type ForwardHandler struct {
	Forwarder client.Forwarder
	Target    cluster.Node
	metrics   *serverMetrics
}

func (h *ForwardHandler) Handle(ctx context.Context, req *common.Request) common.Response {
	if h.metrics != nil {
		defer h.metrics.observeForward()()
	}

	resp, err := h.Forwarder.Forward(ctx, req, h.Target)
	if err != nil {
		kind := common.KindOf(err)
		Logger.Errorf("forward %s %s to %s failed (%s): %v", req.Method, req.Path, h.Target.ID, kind, err)
		return common.NewResponse(kind.Status())
	}
	return resp
}

// --------------------------------------------------------------------------
// Reject
// --------------------------------------------------------------------------

// RejectHandler answers with a fixed status and an empty body
type RejectHandler struct {
	Status int
}

func (h *RejectHandler) Handle(context.Context, *common.Request) common.Response {
	return common.NewResponse(h.Status)
}

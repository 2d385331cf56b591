package client

import (
	"context"
	"net/http"
	"time"

	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
)

// Forwarder relays a request to the node that owns its key
type Forwarder interface {
	// Forward sends req to target and returns the relayed response.
	// Only a successful GET keeps its body. Failures are *common.Error with the
	// kind FailureBadAddress, FailureUnreachable or FailureInterrupted.
	// The call blocks until the target answered or the forward failed.
	Forward(ctx context.Context, req *common.Request, target cluster.Node) (common.Response, error)
}

// NewForwarder creates a forwarder on the given client transport.
// Each forward is bounded by config.TimeoutSecond.
func NewForwarder(config common.ClientConfig, transport transport.IRPCClientTransport) (Forwarder, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &forwarder{
		rpcClientAdapter{
			config:    config,
			transport: transport,
		},
	}, nil
}

type forwarder struct {
	rpcClientAdapter
}

func (f *forwarder) Forward(ctx context.Context, req *common.Request, target cluster.Node) (common.Response, error) {
	if len(target.URLs) == 0 {
		return common.Response{}, common.Errorf(common.FailureBadAddress, "node %s has no url", target.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	// the receiving node must serve the request itself
	forwarded := *req
	forwarded.Forwarded = true

	start := time.Now()
	var err error
	for _, u := range target.URLs {
		var resp common.Response
		resp, err = f.transport.SendTo(ctx, u, &forwarded)
		if err == nil {
			Logger.Debugf("forwarded %s %s to %s => %d in %s", req.Method, req.Path, u, resp.Status, time.Since(start))
			return relay(req.Method, resp), nil
		}

		// only an unreachable url is worth trying the next equivalent url
		if common.KindOf(err) != common.FailureUnreachable {
			break
		}
		Logger.Warningf("node %s unreachable at %s: %v", target.ID, u, err)
	}

	return common.Response{}, err
}

// relay keeps the status of resp and the body only for a successful GET
func relay(method string, resp common.Response) common.Response {
	if method == http.MethodGet && resp.Status == http.StatusOK {
		return resp
	}
	return common.NewResponse(resp.Status)
}

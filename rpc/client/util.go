package client

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ValentinKolb/dht/lib/store"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// timeout returns the per request timeout of the adapter
func (a *rpcClientAdapter) timeout() time.Duration {
	if a.config.TimeoutSecond <= 0 {
		return common.DefaultTimeoutSecond * time.Second
	}
	return time.Duration(a.config.TimeoutSecond) * time.Second
}

// invokeRPCRequest is a helper function used by the RPC clients to send requests.
// It sends req via the transport and checks that the response status is one of expected.
// Any other status is returned as a *store.Error carrying the response body.
func (a *rpcClientAdapter) invokeRPCRequest(req *common.Request, expected ...int) (common.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout())
	defer cancel()

	resp, err := a.transport.Send(ctx, req)
	if err != nil {
		return common.Response{}, store.NewError(store.RetCInternalError, err.Error())
	}

	if !slices.Contains(expected, resp.Status) {
		return resp, store.NewError(store.RetCInternalError,
			fmt.Sprintf("%s %s: unexpected status %d: %s", req.Method, req.Path, resp.Status, resp.Body))
	}
	return resp, nil
}

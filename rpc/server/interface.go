package server

import (
	"context"

	"github.com/ValentinKolb/dht/rpc/common"
)

// Handler produces the response for a request.
// The dispatcher picks one handler per request: LocalHandler when this node owns
// the key, ForwardHandler when a peer does and RejectHandler when the request is
// answered without doing any work.
//
// Handle must always return a response, failures are mapped to a status by the handler.
type Handler interface {
	Handle(ctx context.Context, req *common.Request) (resp common.Response)
}

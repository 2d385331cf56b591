package client

import (
	"net/http"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/lib/store"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a config and a transport as parameters.
// Requests can be sent to any node of the cluster, the node forwards them to the owner.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			config:    config,
			transport: transport,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Put(key string, value []byte) error {
	_, err := i.invokeRPCRequest(common.NewEntityRequest(http.MethodPut, key, value), http.StatusCreated)
	return err
}

func (i *rpcStore) Delete(key string) error {
	_, err := i.invokeRPCRequest(common.NewEntityRequest(http.MethodDelete, key, nil), http.StatusAccepted)
	return err
}

func (i *rpcStore) Get(key string) ([]byte, bool, error) {
	resp, err := i.invokeRPCRequest(common.NewEntityRequest(http.MethodGet, key, nil), http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, false, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, false, nil
	}
	return resp.Body, true, nil
}

// GetDBInfo is not available over the entity api
func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	return db.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation, "GetDBInfo is not available over rpc")
}

func (i *rpcStore) Close() error {
	return i.transport.Close()
}

package lstore

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

type storeImpl struct {
	db db.KVDB
}

// NewLocalStore creates a new local store instance.
// The database is opened with the factory and owned by the store: Close closes it.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("failed to open database: %v", err))
	}
	return &storeImpl{db: database}, nil
}

// wrapError converts an engine error to a *store.Error
func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrClosed) {
		return store.NewError(store.RetCClosed, fmt.Sprintf("%s %q: store is closed", op, key))
	}
	Logger.Errorf("%s %q failed: %v", op, key, err)
	return store.NewError(store.RetCInternalError, fmt.Sprintf("%s %q: %v", op, key, err))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(key string, value []byte) error {
	return wrapError("put", key, s.db.Upsert(db.NewEntry([]byte(key), value)))
}

func (s *storeImpl) Delete(key string) error {
	return wrapError("delete", key, s.db.Upsert(db.NewTombstone([]byte(key))))
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	value, loaded, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, false, wrapError("get", key, err)
	}
	return value, loaded, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	if err := s.db.Close(); err != nil {
		if errors.Is(err, db.ErrClosed) {
			return store.NewError(store.RetCClosed, "store is already closed")
		}
		return store.NewError(store.RetCInternalError, fmt.Sprintf("failed to close database: %v", err))
	}
	return nil
}

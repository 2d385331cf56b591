package lstore

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/ValentinKolb/dht/lib/db/engines/lsm"
	"github.com/ValentinKolb/dht/lib/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := NewLocalStore(func() (db.KVDB, error) {
		return lsm.Open(&lsm.Options{Dir: "/data", FS: afero.NewMemMapFs()})
	})
	require.NoError(t, err)
	return s
}

// brokenDB fails every operation with err
type brokenDB struct {
	err error
}

func (b *brokenDB) Upsert(db.Entry) error            { return b.err }
func (b *brokenDB) Get([]byte) ([]byte, bool, error) { return nil, false, b.err }
func (b *brokenDB) Flush() error                     { return b.err }
func (b *brokenDB) GetInfo() db.DatabaseInfo         { return db.DatabaseInfo{} }
func (b *brokenDB) Close() error                     { return b.err }

func requireCode(t *testing.T, err error, code store.RetCode) {
	t.Helper()
	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr), "expected *store.Error, got %T", err)
	assert.Equal(t, code, storeErr.Code)
}

func TestPutGetDelete(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	require.NoError(t, s.Put("a", []byte("1")))

	value, loaded, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, s.Delete("a"))
	_, loaded, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, loaded)

	_, loaded, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, loaded)

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, db.ImplLSM, info.DbType)
}

func TestFactoryError(t *testing.T) {
	_, err := NewLocalStore(func() (db.KVDB, error) {
		return nil, errors.New("disk on fire")
	})
	requireCode(t, err, store.RetCInternalError)
}

func TestEngineErrorsAreTranslated(t *testing.T) {
	s, err := NewLocalStore(func() (db.KVDB, error) {
		return &brokenDB{err: errors.New("io failure")}, nil
	})
	require.NoError(t, err)

	requireCode(t, s.Put("a", []byte("1")), store.RetCInternalError)
	requireCode(t, s.Delete("a"), store.RetCInternalError)
	_, _, err = s.Get("a")
	requireCode(t, err, store.RetCInternalError)
	assert.Contains(t, err.Error(), "io failure")
}

func TestClosedStore(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())

	requireCode(t, s.Put("a", []byte("1")), store.RetCClosed)
	_, _, err := s.Get("a")
	requireCode(t, err, store.RetCClosed)
	requireCode(t, s.Close(), store.RetCClosed)
}

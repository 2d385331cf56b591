package lsm

import (
	"bytes"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/google/btree"
)

// btreeDegree is the degree of the B-tree backing a memtable
const btreeDegree = 32

// memtable is the ordered in-memory write buffer of the engine.
// It is not synchronized, the engine guards it with its own lock. Once a
// memtable is frozen (moved to the immutable list) it is never written again
// and may be read without holding the engine lock.
type memtable struct {
	tree *btree.BTreeG[db.Entry]
	size int // accumulated key+value bytes of all upserts
}

func newMemtable() *memtable {
	return &memtable{
		tree: btree.NewG[db.Entry](btreeDegree, lessEntry),
	}
}

func lessEntry(a, b db.Entry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// put inserts or replaces the entry for e.Key
func (m *memtable) put(e db.Entry) {
	m.tree.ReplaceOrInsert(e)
	m.size += e.Size()
}

// get returns the entry for key, tombstones included
func (m *memtable) get(key []byte) (db.Entry, bool) {
	return m.tree.Get(db.Entry{Key: key})
}

// len returns the number of distinct keys
func (m *memtable) len() int {
	return m.tree.Len()
}

// ascend calls fn for every entry in key order until fn returns false
func (m *memtable) ascend(fn func(e db.Entry) bool) {
	m.tree.Ascend(fn)
}

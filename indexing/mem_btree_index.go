package indexing

import (
	"github.com/tidwall/btree"

	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/transaction"
)

// btreeItem orders primarily by key and secondarily by rid so the tree
// supports non-unique keys.
type btreeItem struct {
	key int64
	rid common.RID
}

func btreeLess(a, b btreeItem) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	if a.rid.PageID != b.rid.PageID {
		return a.rid.PageID < b.rid.PageID
	}
	return a.rid.Slot < b.rid.Slot
}

// MemBTreeIndex is an ordered in-memory index over one integer column, a
// thin wrapper around github.com/tidwall/btree. The tree's own locking
// makes the index safe for concurrent use.
type MemBTreeIndex struct {
	tree      *btree.BTreeG[btreeItem]
	keyColumn int
}

// NewMemBTreeIndex creates an empty index over keyColumn.
func NewMemBTreeIndex(keyColumn int) *MemBTreeIndex {
	return &MemBTreeIndex{
		tree:      btree.NewBTreeG(btreeLess),
		keyColumn: keyColumn,
	}
}

func (idx *MemBTreeIndex) KeyColumn() int { return idx.keyColumn }

func (idx *MemBTreeIndex) InsertEntry(txn *transaction.Transaction, key int64, rid common.RID) bool {
	if _, replaced := idx.tree.Set(btreeItem{key: key, rid: rid}); replaced {
		return false
	}
	recordInsert(txn, idx, key, rid)
	return true
}

func (idx *MemBTreeIndex) DeleteEntry(txn *transaction.Transaction, key int64, rid common.RID) bool {
	if _, deleted := idx.tree.Delete(btreeItem{key: key, rid: rid}); !deleted {
		return false
	}
	recordDelete(txn, idx, key, rid)
	return true
}

func (idx *MemBTreeIndex) ScanKey(key int64) []common.RID {
	var rids []common.RID
	pivot := btreeItem{key: key, rid: common.RID{PageID: common.InvalidPageID}}
	idx.tree.Ascend(pivot, func(item btreeItem) bool {
		if item.key != key {
			return false
		}
		rids = append(rids, item.rid)
		return true
	})
	return rids
}

// ScanRange returns the rids with keys in [low, high], in key order.
func (idx *MemBTreeIndex) ScanRange(low, high int64) []common.RID {
	var rids []common.RID
	pivot := btreeItem{key: low, rid: common.RID{PageID: common.InvalidPageID}}
	idx.tree.Ascend(pivot, func(item btreeItem) bool {
		if item.key > high {
			return false
		}
		rids = append(rids, item.rid)
		return true
	})
	return rids
}

// Rollback reverses a recorded write during transaction abort.
func (idx *MemBTreeIndex) Rollback(writeType transaction.IndexWriteType, key int64, rid common.RID) {
	switch writeType {
	case transaction.IndexInsert:
		idx.tree.Delete(btreeItem{key: key, rid: rid})
	case transaction.IndexDelete:
		idx.tree.Set(btreeItem{key: key, rid: rid})
	}
}

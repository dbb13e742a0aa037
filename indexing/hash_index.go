package indexing

import (
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/storage"
	"github.com/kestreldb/kestrel/transaction"
)

// DiskHashIndex is an equality index over one integer column, backed by the
// extendible hash table and therefore by the buffer pool. It supports point
// lookups only; range scans belong to the B-tree index.
type DiskHashIndex struct {
	table     *ExtendibleHashTable[int64, common.RID]
	keyColumn int
}

// NewDiskHashIndex creates the index and its backing hash table.
func NewDiskHashIndex(pool storage.BufferPool, keyColumn int) *DiskHashIndex {
	return &DiskHashIndex{
		table:     NewExtendibleHashTable[int64, common.RID](pool, Int64Codec{}, RIDCodec{}),
		keyColumn: keyColumn,
	}
}

func (idx *DiskHashIndex) KeyColumn() int { return idx.keyColumn }

func (idx *DiskHashIndex) InsertEntry(txn *transaction.Transaction, key int64, rid common.RID) bool {
	if !idx.table.Insert(key, rid) {
		return false
	}
	recordInsert(txn, idx, key, rid)
	return true
}

func (idx *DiskHashIndex) DeleteEntry(txn *transaction.Transaction, key int64, rid common.RID) bool {
	if !idx.table.Remove(key, rid) {
		return false
	}
	recordDelete(txn, idx, key, rid)
	return true
}

func (idx *DiskHashIndex) ScanKey(key int64) []common.RID {
	return idx.table.GetValue(key)
}

// Rollback reverses a recorded write during transaction abort. The inverse
// operation is applied without touching any write set.
func (idx *DiskHashIndex) Rollback(writeType transaction.IndexWriteType, key int64, rid common.RID) {
	switch writeType {
	case transaction.IndexInsert:
		idx.table.Remove(key, rid)
	case transaction.IndexDelete:
		idx.table.Insert(key, rid)
	}
}

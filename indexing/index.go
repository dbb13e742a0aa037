package indexing

import (
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/transaction"
)

// Index is the contract the write executors maintain: every insert, delete
// and update of a table reflects into each of the table's indexes. Keys are
// 64-bit integer column values; values are the rids of the owning tuples.
//
// Successful modifications made on behalf of a transaction land in its
// index write set, so an abort can reverse them through Rollback.
type Index interface {
	transaction.RollbackIndex

	// InsertEntry adds (key, rid). Returns false when the entry cannot be
	// stored (duplicate, or the structure cannot grow).
	InsertEntry(txn *transaction.Transaction, key int64, rid common.RID) bool
	// DeleteEntry removes (key, rid). Returns false when no such entry
	// exists.
	DeleteEntry(txn *transaction.Transaction, key int64, rid common.RID) bool
	// ScanKey returns the rids stored under key.
	ScanKey(key int64) []common.RID
	// KeyColumn returns the column the index is built over.
	KeyColumn() int
}

// recordInsert appends an insert record to the transaction's write set.
func recordInsert(txn *transaction.Transaction, idx Index, key int64, rid common.RID) {
	if txn == nil {
		return
	}
	txn.AppendIndexWrite(transaction.IndexWriteRecord{
		Type:  transaction.IndexInsert,
		Key:   key,
		RID:   rid,
		Index: idx,
	})
}

// recordDelete appends a delete record to the transaction's write set.
func recordDelete(txn *transaction.Transaction, idx Index, key int64, rid common.RID) {
	if txn == nil {
		return
	}
	txn.AppendIndexWrite(transaction.IndexWriteRecord{
		Type:  transaction.IndexDelete,
		Key:   key,
		RID:   rid,
		Index: idx,
	})
}

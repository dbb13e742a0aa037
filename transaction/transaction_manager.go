package transaction

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kestreldb/kestrel/common"
)

// TxnRegistry resolves transaction ids to live transactions. It is created
// by the transaction manager and handed to the lock manager, which needs it
// to deliver wounds; there is no global lookup.
type TxnRegistry struct {
	txns *xsync.MapOf[common.TxnID, *Transaction]
}

// NewTxnRegistry creates an empty registry.
func NewTxnRegistry() *TxnRegistry {
	return &TxnRegistry{txns: xsync.NewMapOf[common.TxnID, *Transaction]()}
}

// Get returns the live transaction with the given id, or nil.
func (r *TxnRegistry) Get(id common.TxnID) *Transaction {
	txn, _ := r.txns.Load(id)
	return txn
}

func (r *TxnRegistry) add(txn *Transaction)   { r.txns.Store(txn.ID(), txn) }
func (r *TxnRegistry) remove(id common.TxnID) { r.txns.Delete(id) }

// TransactionManager owns the transaction lifecycle: it hands out ids,
// tracks live transactions, and finalizes commit and abort. Abort reverses
// the transaction's index writes in LIFO order before the locks go.
type TransactionManager struct {
	registry *TxnRegistry
	lockMgr  *LockManager

	nextTxnID atomic.Int32
}

// NewTransactionManager wires a registry and a lock manager together.
func NewTransactionManager() *TransactionManager {
	registry := NewTxnRegistry()
	return &TransactionManager{
		registry: registry,
		lockMgr:  NewLockManager(registry),
	}
}

// LockManager returns the lock manager bound to this transaction manager's
// registry.
func (tm *TransactionManager) LockManager() *LockManager { return tm.lockMgr }

// Begin starts a transaction at the given isolation level. Ids grow
// monotonically, so a transaction begun later is younger and loses
// wound-wait conflicts against earlier ones.
func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	id := common.TxnID(tm.nextTxnID.Add(1) - 1)
	txn := NewTransaction(id, isolation)
	tm.registry.add(txn)
	return txn
}

// Commit finishes the transaction successfully and releases every lock it
// holds.
func (tm *TransactionManager) Commit(txn *Transaction) {
	common.Assert(txn.State() != Aborted, "committing an aborted transaction")
	txn.SetState(Committed)
	tm.releaseAllLocks(txn)
	tm.registry.remove(txn.ID())
}

// Abort rolls the transaction back: index writes are reversed newest-first
// using the write set, then every lock is released.
func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(Aborted)

	for i := len(txn.indexWrites) - 1; i >= 0; i-- {
		rec := txn.indexWrites[i]
		switch rec.Type {
		case IndexInsert:
			rec.Index.Rollback(IndexInsert, rec.Key, rec.RID)
		case IndexDelete:
			rec.Index.Rollback(IndexDelete, rec.Key, rec.RID)
		}
	}
	txn.indexWrites = txn.indexWrites[:0]

	tm.releaseAllLocks(txn)
	tm.registry.remove(txn.ID())
}

func (tm *TransactionManager) releaseAllLocks(txn *Transaction) {
	for _, rid := range txn.heldRIDs() {
		tm.lockMgr.Unlock(txn, rid)
	}
}

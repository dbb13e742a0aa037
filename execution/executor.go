package execution

import (
	"github.com/kestreldb/kestrel/transaction"
)

// Executor is the pull-based operator iterator. Init must be called before
// the first Next; when Next returns false the caller distinguishes
// exhaustion from failure through Error. A lock-manager abort error from
// Error means the transaction must be handed to the transaction manager's
// Abort.
type Executor interface {
	Init(ctx *ExecutorContext) error
	Next() bool
	Current() Tuple
	Error() error
	Close() error
}

// ExecutorContext bundles what every operator needs at runtime: the
// transaction it runs on behalf of and the managers that arbitrate its
// locks.
type ExecutorContext struct {
	Txn     *transaction.Transaction
	TxnMgr  *transaction.TransactionManager
	LockMgr *transaction.LockManager
}

// NewExecutorContext builds a context for one transaction.
func NewExecutorContext(txn *transaction.Transaction, txnMgr *transaction.TransactionManager) *ExecutorContext {
	return &ExecutorContext{
		Txn:     txn,
		TxnMgr:  txnMgr,
		LockMgr: txnMgr.LockManager(),
	}
}

// Predicate filters tuples. A nil Predicate accepts everything.
type Predicate func(Tuple) bool

// KeyFunc extracts a 64-bit integer key, typically a column value, for
// index maintenance and joins on integer columns.
type KeyFunc func(Tuple) int64

// ColumnKey returns a KeyFunc reading integer column i.
func ColumnKey(i int) KeyFunc {
	return func(t Tuple) int64 { return t.Column(i).IntValue() }
}

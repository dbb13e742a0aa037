package execution

import (
	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/transaction"
)

// lockForRead takes the shared lock a read requires at the transaction's
// isolation level. READ_UNCOMMITTED reads lock nothing.
func lockForRead(ctx *ExecutorContext, rid common.RID) error {
	if ctx.Txn.Isolation() == transaction.ReadUncommitted {
		return nil
	}
	return ctx.LockMgr.LockShared(ctx.Txn, rid)
}

// unlockAfterRead releases a read lock once the tuple has been copied out.
// Only READ_COMMITTED releases eagerly; REPEATABLE_READ holds to commit,
// and an exclusive lock on the same rid is never released here.
func unlockAfterRead(ctx *ExecutorContext, rid common.RID) {
	if ctx.Txn.Isolation() != transaction.ReadCommitted {
		return
	}
	if !ctx.Txn.IsSharedLocked(rid) {
		return
	}
	ctx.LockMgr.Unlock(ctx.Txn, rid)
}

// lockForWrite takes the exclusive lock a modification requires, upgrading
// in place when the transaction already holds the rid shared.
func lockForWrite(ctx *ExecutorContext, rid common.RID) error {
	if ctx.Txn.IsSharedLocked(rid) {
		return ctx.LockMgr.LockUpgrade(ctx.Txn, rid)
	}
	return ctx.LockMgr.LockExclusive(ctx.Txn, rid)
}

package transaction

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kestreldb/kestrel/common"
)

var log = common.Component("transaction")

// lockMode is the strength of a tuple lock.
type lockMode int

const (
	modeShared lockMode = iota
	modeExclusive
)

func (m lockMode) String() string {
	if m == modeShared {
		return "SHARED"
	}
	return "EXCLUSIVE"
}

// lockRequest is one transaction's position in a rid's queue.
type lockRequest struct {
	txnID   common.TxnID
	mode    lockMode
	granted bool
	wounded bool
}

// lockRequestQueue serializes lock traffic on one rid. The granted list is
// always a mutually-compatible group: all shared holders, or exactly one
// exclusive holder. The wait list is FIFO; a request is granted only at the
// head, which is what starves neither readers nor writers.
type lockRequestQueue struct {
	mu sync.Mutex
	cv *sync.Cond

	granted []*lockRequest
	waiting []*lockRequest

	// upgrading is the transaction currently upgrading shared to
	// exclusive, if any. At most one upgrade may be in flight per rid.
	upgrading common.TxnID
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: common.InvalidTxnID}
	q.cv = sync.NewCond(&q.mu)
	return q
}

// compatibleAtHead reports whether req, sitting at the head of the wait
// list, is compatible with the granted group. Caller holds q.mu.
func (q *lockRequestQueue) compatibleAtHead(req *lockRequest) bool {
	if len(q.granted) == 0 {
		return true
	}
	if req.mode == modeExclusive {
		return false
	}
	// The granted group is homogeneous, so inspecting one member tells
	// us the group's mode.
	last := q.granted[len(q.granted)-1]
	return last.mode == modeShared && last.granted
}

// removeGranted drops the transaction's grant. Returns whether it was
// found and the mode it held. Caller holds q.mu.
func (q *lockRequestQueue) removeGranted(txnID common.TxnID) (bool, lockMode) {
	for i, req := range q.granted {
		if req.txnID != txnID {
			continue
		}
		common.Assert(req.granted, "ungranted request in granted list")
		q.granted = append(q.granted[:i], q.granted[i+1:]...)
		return true, req.mode
	}
	return false, modeShared
}

// removeWaiting drops a specific request from the wait list. Caller holds
// q.mu.
func (q *lockRequestQueue) removeWaiting(target *lockRequest) {
	for i, req := range q.waiting {
		if req == target {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
	common.Assert(false, "request of txn %d missing from wait list", target.txnID)
}

// LockManager implements tuple-level two-phase locking with wound-wait
// deadlock prevention: an older transaction that finds a strictly younger
// one in its way marks it aborted, then waits for the lock to drain; a
// younger transaction simply waits behind older ones. The wait-for graph
// can therefore only point from smaller to larger ids, which rules out
// cycles by construction.
//
// The lock manager reaches transactions through the registry handed to it
// at construction; it carries no other knowledge of the transaction
// manager.
type LockManager struct {
	registry  *TxnRegistry
	lockTable *xsync.MapOf[common.RID, *lockRequestQueue]
}

// NewLockManager creates a lock manager that resolves transaction ids
// through registry when wounding.
func NewLockManager(registry *TxnRegistry) *LockManager {
	return &LockManager{
		registry:  registry,
		lockTable: xsync.NewMapOf[common.RID, *lockRequestQueue](),
	}
}

func (lm *LockManager) getQueue(rid common.RID) *lockRequestQueue {
	if q, ok := lm.lockTable.Load(rid); ok {
		return q
	}
	q, _ := lm.lockTable.LoadOrStore(rid, newLockRequestQueue())
	return q
}

// sanityCheck rejects requests the 2PL protocol forbids. A rejected
// transaction (other than an already-aborted one) is moved to Aborted
// before the error returns.
func (lm *LockManager) sanityCheck(txn *Transaction, mode lockMode) error {
	if txn.State() == Aborted {
		return common.TxnAbortError{TxnID: txn.ID(), Reason: common.Deadlock}
	}
	if txn.State() == Shrinking {
		txn.SetState(Aborted)
		return common.TxnAbortError{TxnID: txn.ID(), Reason: common.LockOnShrinking}
	}
	if mode == modeShared && txn.Isolation() == ReadUncommitted {
		txn.SetState(Aborted)
		return common.TxnAbortError{TxnID: txn.ID(), Reason: common.LockSharedOnReadUncommitted}
	}
	return nil
}

// woundInList marks every not-yet-wounded, strictly younger request ahead
// of txnID as aborted. Traversal stops at the transaction's own request so
// nothing behind it is touched. Returns the number of requests wounded in
// this list. Caller holds q.mu.
func (lm *LockManager) woundInList(list []*lockRequest, txnID common.TxnID) int {
	wounded := 0
	for _, req := range list {
		if req.txnID == txnID {
			break
		}
		if !req.wounded && req.txnID > txnID {
			victim := lm.registry.Get(req.txnID)
			common.Assert(victim != nil, "wounding unknown transaction %d", req.txnID)
			req.wounded = true
			victim.SetState(Aborted)
			wounded++
		}
	}
	return wounded
}

// woundYounger applies wound-wait across both lists. Only wounded waiters
// need a wakeup; wounded holders discover the abort on their own next
// operation. Caller holds q.mu.
func (lm *LockManager) woundYounger(q *lockRequestQueue, txnID common.TxnID) int {
	lm.woundInList(q.granted, txnID)
	return lm.woundInList(q.waiting, txnID)
}

// waitInQueue enqueues a request and blocks until it reaches the head of
// the wait list compatibly, or until the transaction is wounded. On grant
// the request moves to the granted list.
func (lm *LockManager) waitInQueue(q *lockRequestQueue, txn *Transaction, mode lockMode) error {
	req := &lockRequest{txnID: txn.ID(), mode: mode}

	q.mu.Lock()
	q.waiting = append(q.waiting, req)

	for len(q.waiting) == 0 || q.waiting[0] != req || !q.compatibleAtHead(req) {
		if lm.woundYounger(q, txn.ID()) > 0 {
			q.cv.Broadcast()
		}
		// Wounded victims still hold their locks until they unwind, so
		// we wait for the release either way.
		q.cv.Wait()

		if txn.State() == Aborted {
			q.removeWaiting(req)
			if q.upgrading == txn.ID() {
				q.upgrading = common.InvalidTxnID
			}
			// Our departure may have exposed a grantable head.
			q.cv.Broadcast()
			q.mu.Unlock()
			return common.TxnAbortError{TxnID: txn.ID(), Reason: common.Deadlock}
		}
	}

	q.waiting = q.waiting[1:]
	req.granted = true
	q.granted = append(q.granted, req)

	// A shared grant may leave the new head (another shared request)
	// grantable too.
	if mode == modeShared {
		q.cv.Broadcast()
	}
	q.mu.Unlock()
	return nil
}

// LockShared acquires a shared lock on rid, blocking as needed. Re-entry
// on an already-held shared or exclusive lock is a no-op success.
func (lm *LockManager) LockShared(txn *Transaction, rid common.RID) error {
	if err := lm.sanityCheck(txn, modeShared); err != nil {
		return err
	}
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return nil
	}
	if err := lm.waitInQueue(lm.getQueue(rid), txn, modeShared); err != nil {
		return err
	}
	txn.sharedLocks[rid] = struct{}{}
	return nil
}

// LockExclusive acquires an exclusive lock on rid, blocking as needed.
// Re-entry on an already-held exclusive lock is a no-op success.
func (lm *LockManager) LockExclusive(txn *Transaction, rid common.RID) error {
	if err := lm.sanityCheck(txn, modeExclusive); err != nil {
		return err
	}
	if txn.IsExclusiveLocked(rid) {
		return nil
	}
	if err := lm.waitInQueue(lm.getQueue(rid), txn, modeExclusive); err != nil {
		return err
	}
	txn.exclusiveLocks[rid] = struct{}{}
	return nil
}

// LockUpgrade converts the transaction's shared lock on rid into an
// exclusive one. Only one upgrade may be pending per rid; a second
// upgrader aborts with UpgradeConflict. Upgrading a lock that is already
// exclusive is a no-op success.
func (lm *LockManager) LockUpgrade(txn *Transaction, rid common.RID) error {
	q := lm.getQueue(rid)

	// The conflict check comes before the sanity checks: a second upgrader
	// that the pending one has already wounded still reports
	// UpgradeConflict.
	q.mu.Lock()
	conflict := q.upgrading != common.InvalidTxnID
	q.mu.Unlock()
	if conflict {
		txn.SetState(Aborted)
		return common.TxnAbortError{TxnID: txn.ID(), Reason: common.UpgradeConflict}
	}

	if err := lm.sanityCheck(txn, modeExclusive); err != nil {
		return err
	}
	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	q.mu.Lock()
	if q.upgrading != common.InvalidTxnID {
		q.mu.Unlock()
		txn.SetState(Aborted)
		return common.TxnAbortError{TxnID: txn.ID(), Reason: common.UpgradeConflict}
	}
	q.upgrading = txn.ID()

	found, mode := q.removeGranted(txn.ID())
	common.Assert(found, "upgrade without a held lock on %s", rid)
	common.Assert(mode == modeShared, "upgrade of a non-shared lock on %s", rid)
	if len(q.granted) == 0 {
		// Dropping our shared grant may unblock the current head.
		q.cv.Broadcast()
	}
	q.mu.Unlock()

	if err := lm.waitInQueue(q, txn, modeExclusive); err != nil {
		return err
	}

	q.mu.Lock()
	q.upgrading = common.InvalidTxnID
	q.mu.Unlock()

	delete(txn.sharedLocks, rid)
	txn.exclusiveLocks[rid] = struct{}{}
	return nil
}

// Unlock releases the transaction's lock on rid and applies the
// isolation-dependent 2PL phase transition: under RepeatableRead any
// release starts shrinking; under ReadCommitted only an exclusive release
// does, since shared locks are released eagerly by design of that level.
func (lm *LockManager) Unlock(txn *Transaction, rid common.RID) bool {
	q, ok := lm.lockTable.Load(rid)
	if !ok {
		log.Warnf("unlock of an unknown rid %s by txn %d", rid, txn.ID())
		return false
	}

	q.mu.Lock()
	found, mode := q.removeGranted(txn.ID())
	if found && len(q.granted) == 0 {
		// The whole group drained; waiters can re-check compatibility.
		q.cv.Broadcast()
	}
	q.mu.Unlock()

	if txn.State() == Growing {
		if !(mode == modeShared && txn.Isolation() == ReadCommitted) {
			txn.SetState(Shrinking)
		}
	}

	if !found {
		log.Warnf("unlock without a matching grant on %s by txn %d", rid, txn.ID())
		return false
	}
	if mode == modeShared {
		delete(txn.sharedLocks, rid)
	} else {
		delete(txn.exclusiveLocks, rid)
	}
	return true
}

// GrantedGroupSize returns how many transactions currently hold a lock on
// rid. Tests use it to observe the granted-group invariant.
func (lm *LockManager) GrantedGroupSize(rid common.RID) int {
	q, ok := lm.lockTable.Load(rid)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.granted)
}

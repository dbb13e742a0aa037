package transaction

import (
	"sync/atomic"

	"github.com/kestreldb/kestrel/common"
)

// TxnState is the lifecycle state of a transaction.
type TxnState int32

const (
	// Growing transactions may acquire locks.
	Growing TxnState = iota
	// Shrinking transactions have released a lock and may only release
	// more; acquiring again violates two-phase locking.
	Shrinking
	// Committed is terminal.
	Committed
	// Aborted is terminal. The lock manager moves wounded transactions
	// here; they observe it on their next wakeup or lock call.
	Aborted
)

func (s TxnState) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	}
	return "unknown"
}

// IsolationLevel selects how much locking a transaction's reads perform.
type IsolationLevel int

const (
	// ReadUncommitted takes no shared locks at all; writes still lock
	// exclusively.
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted takes a shared lock per read and releases it as soon
	// as the tuple has been copied out; exclusive locks are held to
	// commit.
	ReadCommitted
	// RepeatableRead is strict two-phase locking: all locks are held
	// until commit or abort.
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	}
	return "unknown"
}

// IndexWriteType tags an entry of the index write set.
type IndexWriteType int

const (
	// IndexInsert records that the transaction inserted an index entry.
	IndexInsert IndexWriteType = iota
	// IndexDelete records that the transaction deleted an index entry.
	IndexDelete
)

// RollbackIndex is the capability the transaction manager uses to reverse
// index writes during abort. Indexes implement it; the transaction layer
// needs no knowledge of their structure.
type RollbackIndex interface {
	Rollback(writeType IndexWriteType, key int64, rid common.RID)
}

// IndexWriteRecord remembers one index modification for rollback.
type IndexWriteRecord struct {
	Type  IndexWriteType
	Key   int64
	RID   common.RID
	Index RollbackIndex
}

// Transaction carries the runtime state of one transaction: identity,
// 2PL phase, isolation level, the rids it holds locks on, and the index
// write set used to unwind aborts.
//
// The lock sets and write set are touched only by the owning goroutine.
// The state is also written by the lock manager when the transaction is
// wounded, so it is atomic.
type Transaction struct {
	id        common.TxnID
	isolation IsolationLevel
	state     atomic.Int32

	sharedLocks    map[common.RID]struct{}
	exclusiveLocks map[common.RID]struct{}
	indexWrites    []IndexWriteRecord
}

// NewTransaction creates a transaction in the Growing state. Younger
// transactions must receive larger ids; the wound-wait policy orders by id.
func NewTransaction(id common.TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolation:      isolation,
		sharedLocks:    make(map[common.RID]struct{}),
		exclusiveLocks: make(map[common.RID]struct{}),
	}
}

// ID returns the transaction id.
func (t *Transaction) ID() common.TxnID { return t.id }

// Isolation returns the transaction's isolation level.
func (t *Transaction) Isolation() IsolationLevel { return t.isolation }

// State returns the current lifecycle state.
func (t *Transaction) State() TxnState { return TxnState(t.state.Load()) }

// SetState moves the transaction to a new state. The lock manager calls
// this from other goroutines when wounding.
func (t *Transaction) SetState(s TxnState) { t.state.Store(int32(s)) }

// IsSharedLocked reports whether the transaction holds a shared lock on
// rid.
func (t *Transaction) IsSharedLocked(rid common.RID) bool {
	_, ok := t.sharedLocks[rid]
	return ok
}

// IsExclusiveLocked reports whether the transaction holds an exclusive
// lock on rid.
func (t *Transaction) IsExclusiveLocked(rid common.RID) bool {
	_, ok := t.exclusiveLocks[rid]
	return ok
}

// SharedLockCount returns the number of held shared locks.
func (t *Transaction) SharedLockCount() int { return len(t.sharedLocks) }

// ExclusiveLockCount returns the number of held exclusive locks.
func (t *Transaction) ExclusiveLockCount() int { return len(t.exclusiveLocks) }

// AppendIndexWrite records an index modification for potential rollback.
func (t *Transaction) AppendIndexWrite(rec IndexWriteRecord) {
	t.indexWrites = append(t.indexWrites, rec)
}

// heldRIDs snapshots every rid the transaction holds any lock on.
func (t *Transaction) heldRIDs() []common.RID {
	rids := make([]common.RID, 0, len(t.sharedLocks)+len(t.exclusiveLocks))
	for rid := range t.sharedLocks {
		rids = append(rids, rid)
	}
	for rid := range t.exclusiveLocks {
		rids = append(rids, rid)
	}
	return rids
}

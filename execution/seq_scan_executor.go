package execution

import (
	"github.com/kestreldb/kestrel/common"
)

// SeqScanExecutor walks every live tuple of a table. Each tuple is read
// under the lock its transaction's isolation level requires: no lock at
// READ_UNCOMMITTED, a transient shared lock at READ_COMMITTED, and a
// held shared lock at REPEATABLE_READ.
type SeqScanExecutor struct {
	heap      *TableHeap
	predicate Predicate

	ctx     *ExecutorContext
	rids    []common.RID
	nextIdx int
	current Tuple
	err     error
}

// NewSeqScanExecutor scans heap, emitting tuples that satisfy predicate
// (nil accepts all).
func NewSeqScanExecutor(heap *TableHeap, predicate Predicate) *SeqScanExecutor {
	return &SeqScanExecutor{heap: heap, predicate: predicate}
}

func (e *SeqScanExecutor) Init(ctx *ExecutorContext) error {
	e.ctx = ctx
	e.rids = e.heap.ScanRIDs()
	e.nextIdx = 0
	e.err = nil
	return nil
}

func (e *SeqScanExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	for e.nextIdx < len(e.rids) {
		rid := e.rids[e.nextIdx]
		e.nextIdx++

		if err := lockForRead(e.ctx, rid); err != nil {
			e.err = err
			return false
		}
		values, ok := e.heap.GetTuple(rid)
		unlockAfterRead(e.ctx, rid)
		if !ok {
			// Deleted since the rid snapshot; skip it.
			continue
		}
		tuple := Tuple{Values: values, RID: rid}
		if e.predicate != nil && !e.predicate(tuple) {
			continue
		}
		e.current = tuple
		return true
	}
	return false
}

func (e *SeqScanExecutor) Current() Tuple { return e.current }

func (e *SeqScanExecutor) Error() error { return e.err }

func (e *SeqScanExecutor) Close() error { return nil }

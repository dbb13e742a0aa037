package execution

import (
	"github.com/juju/errors"

	"github.com/kestreldb/kestrel/indexing"
)

// DeleteExecutor removes every tuple its child produces, under an
// exclusive lock per rid (upgrading a shared lock the scan may already
// hold). Index entries for the deleted tuples are removed and recorded in
// the transaction's write set. Emits nothing.
type DeleteExecutor struct {
	heap    *TableHeap
	indexes []indexing.Index
	child   Executor

	ctx     *ExecutorContext
	done    bool
	deleted int
	err     error
}

// NewDeleteExecutor deletes the child's output from heap.
func NewDeleteExecutor(heap *TableHeap, indexes []indexing.Index, child Executor) *DeleteExecutor {
	return &DeleteExecutor{heap: heap, indexes: indexes, child: child}
}

func (e *DeleteExecutor) Init(ctx *ExecutorContext) error {
	e.ctx = ctx
	e.done = false
	e.deleted = 0
	e.err = nil
	return e.child.Init(ctx)
}

func (e *DeleteExecutor) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	e.done = true

	for e.child.Next() {
		tuple := e.child.Current()

		if err := lockForWrite(e.ctx, tuple.RID); err != nil {
			e.err = err
			return false
		}
		if !e.heap.DeleteTuple(tuple.RID) {
			e.err = errors.Errorf("delete of a missing tuple %s", tuple.RID)
			return false
		}
		for _, idx := range e.indexes {
			key := tuple.Column(idx.KeyColumn()).IntValue()
			idx.DeleteEntry(e.ctx.Txn, key, tuple.RID)
		}
		e.deleted++
	}
	e.err = e.child.Error()
	return false
}

// Deleted returns how many tuples were removed.
func (e *DeleteExecutor) Deleted() int { return e.deleted }

func (e *DeleteExecutor) Current() Tuple { return Tuple{} }

func (e *DeleteExecutor) Error() error { return e.err }

func (e *DeleteExecutor) Close() error { return e.child.Close() }

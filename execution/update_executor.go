package execution

import (
	"github.com/juju/errors"

	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/indexing"
)

// UpdateFunc maps a tuple's current values to its new values.
type UpdateFunc func(old []common.Value) []common.Value

// UpdateExecutor rewrites every tuple its child produces, in place, under
// an exclusive lock per rid. Index entries move from the old key to the
// new key, both movements recorded for rollback. Emits nothing.
type UpdateExecutor struct {
	heap    *TableHeap
	indexes []indexing.Index
	child   Executor
	update  UpdateFunc

	ctx     *ExecutorContext
	done    bool
	updated int
	err     error
}

// NewUpdateExecutor applies update to the child's output.
func NewUpdateExecutor(heap *TableHeap, indexes []indexing.Index, child Executor, update UpdateFunc) *UpdateExecutor {
	return &UpdateExecutor{heap: heap, indexes: indexes, child: child, update: update}
}

func (e *UpdateExecutor) Init(ctx *ExecutorContext) error {
	e.ctx = ctx
	e.done = false
	e.updated = 0
	e.err = nil
	return e.child.Init(ctx)
}

func (e *UpdateExecutor) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	e.done = true

	for e.child.Next() {
		tuple := e.child.Current()
		newValues := e.update(tuple.Values)

		if err := lockForWrite(e.ctx, tuple.RID); err != nil {
			e.err = err
			return false
		}
		if !e.heap.UpdateTuple(tuple.RID, newValues) {
			e.err = errors.Errorf("update of a missing tuple %s", tuple.RID)
			return false
		}

		newTuple := Tuple{Values: newValues, RID: tuple.RID}
		for _, idx := range e.indexes {
			oldKey := tuple.Column(idx.KeyColumn()).IntValue()
			newKey := newTuple.Column(idx.KeyColumn()).IntValue()
			if oldKey == newKey {
				continue
			}
			idx.DeleteEntry(e.ctx.Txn, oldKey, tuple.RID)
			if !idx.InsertEntry(e.ctx.Txn, newKey, tuple.RID) {
				e.err = errors.Errorf("index rejected updated entry for %s", tuple.RID)
				return false
			}
		}
		e.updated++
	}
	e.err = e.child.Error()
	return false
}

// Updated returns how many tuples were rewritten.
func (e *UpdateExecutor) Updated() int { return e.updated }

func (e *UpdateExecutor) Current() Tuple { return Tuple{} }

func (e *UpdateExecutor) Error() error { return e.err }

func (e *UpdateExecutor) Close() error { return e.child.Close() }

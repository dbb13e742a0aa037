package execution

import (
	"github.com/juju/errors"

	"github.com/kestreldb/kestrel/common"
	"github.com/kestreldb/kestrel/indexing"
)

// InsertExecutor appends rows to a table and reflects each into the
// table's indexes. It emits nothing; Next performs all the work on its
// first call and returns false. Any storage, lock or index failure
// surfaces through Error so the caller can abort the transaction.
type InsertExecutor struct {
	heap    *TableHeap
	indexes []indexing.Index
	rows    [][]common.Value
	child   Executor

	ctx      *ExecutorContext
	done     bool
	inserted int
	err      error
}

// NewInsertExecutor inserts the literal rows.
func NewInsertExecutor(heap *TableHeap, indexes []indexing.Index, rows [][]common.Value) *InsertExecutor {
	return &InsertExecutor{heap: heap, indexes: indexes, rows: rows}
}

// NewInsertFromChildExecutor inserts every tuple the child produces.
func NewInsertFromChildExecutor(heap *TableHeap, indexes []indexing.Index, child Executor) *InsertExecutor {
	return &InsertExecutor{heap: heap, indexes: indexes, child: child}
}

func (e *InsertExecutor) Init(ctx *ExecutorContext) error {
	e.ctx = ctx
	e.done = false
	e.inserted = 0
	e.err = nil
	if e.child != nil {
		return e.child.Init(ctx)
	}
	return nil
}

func (e *InsertExecutor) Next() bool {
	if e.done || e.err != nil {
		return false
	}
	e.done = true

	if e.child != nil {
		for e.child.Next() {
			if !e.insertOne(e.child.Current().Values) {
				return false
			}
		}
		e.err = e.child.Error()
		return false
	}

	for _, row := range e.rows {
		if !e.insertOne(row) {
			return false
		}
	}
	return false
}

func (e *InsertExecutor) insertOne(values []common.Value) bool {
	rid, ok := e.heap.InsertTuple(values)
	if !ok {
		e.err = errors.Errorf("table heap rejected insert")
		return false
	}
	// The tuple exists only inside this transaction until commit; lock it
	// exclusively so no reader at a locking isolation level can see it.
	if err := e.ctx.LockMgr.LockExclusive(e.ctx.Txn, rid); err != nil {
		e.err = err
		return false
	}

	tuple := Tuple{Values: values, RID: rid}
	for _, idx := range e.indexes {
		key := tuple.Column(idx.KeyColumn()).IntValue()
		if !idx.InsertEntry(e.ctx.Txn, key, rid) {
			e.err = errors.Errorf("index rejected entry for %s", rid)
			return false
		}
	}
	e.inserted++
	return true
}

// Inserted returns how many rows landed.
func (e *InsertExecutor) Inserted() int { return e.inserted }

func (e *InsertExecutor) Current() Tuple { return Tuple{} }

func (e *InsertExecutor) Error() error { return e.err }

func (e *InsertExecutor) Close() error {
	if e.child != nil {
		return e.child.Close()
	}
	return nil
}

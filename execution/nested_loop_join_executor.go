package execution

import (
	"github.com/kestreldb/kestrel/common"
)

// JoinPredicate decides whether a left and right tuple join.
type JoinPredicate func(left, right Tuple) bool

// NestedLoopJoinExecutor joins by materializing the right side once and
// testing every (left, right) pair. Output tuples concatenate left values
// then right values and carry no rid.
type NestedLoopJoinExecutor struct {
	left      Executor
	right     Executor
	predicate JoinPredicate

	rightRows []Tuple
	haveLeft  bool
	leftTuple Tuple
	rightIdx  int
	current   Tuple
	err       error
}

// NewNestedLoopJoinExecutor joins left against right on predicate.
func NewNestedLoopJoinExecutor(left, right Executor, predicate JoinPredicate) *NestedLoopJoinExecutor {
	return &NestedLoopJoinExecutor{left: left, right: right, predicate: predicate}
}

func (e *NestedLoopJoinExecutor) Init(ctx *ExecutorContext) error {
	e.rightRows = nil
	e.haveLeft = false
	e.rightIdx = 0
	e.err = nil
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	if err := e.right.Init(ctx); err != nil {
		return err
	}
	for e.right.Next() {
		e.rightRows = append(e.rightRows, e.right.Current())
	}
	return e.right.Error()
}

func (e *NestedLoopJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	for {
		if !e.haveLeft {
			if !e.left.Next() {
				e.err = e.left.Error()
				return false
			}
			e.leftTuple = e.left.Current()
			e.haveLeft = true
			e.rightIdx = 0
		}
		for e.rightIdx < len(e.rightRows) {
			right := e.rightRows[e.rightIdx]
			e.rightIdx++
			if e.predicate != nil && !e.predicate(e.leftTuple, right) {
				continue
			}
			e.current = joinTuples(e.leftTuple, right)
			return true
		}
		e.haveLeft = false
	}
}

func (e *NestedLoopJoinExecutor) Current() Tuple { return e.current }

func (e *NestedLoopJoinExecutor) Error() error { return e.err }

func (e *NestedLoopJoinExecutor) Close() error {
	err1 := e.left.Close()
	err2 := e.right.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// joinTuples concatenates two tuples' values.
func joinTuples(left, right Tuple) Tuple {
	values := make([]common.Value, 0, len(left.Values)+len(right.Values))
	values = append(values, left.Values...)
	values = append(values, right.Values...)
	return Tuple{Values: values}
}

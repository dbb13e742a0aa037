package execution

import (
	"github.com/kestreldb/kestrel/common"
)

// ValuesFunc extracts the join-key values from a tuple.
type ValuesFunc func(Tuple) []common.Value

// HashJoinExecutor implements an equi-join: the left child is drained into
// an in-memory hash table keyed by the left key expression, then each right
// tuple probes it. Matches for one right tuple are emitted in the order the
// left tuples entered their bucket.
type HashJoinExecutor struct {
	left     Executor
	right    Executor
	leftKey  ValuesFunc
	rightKey ValuesFunc

	table      *ExecHashTable[[]Tuple]
	built      bool
	matches    []Tuple
	matchIdx   int
	rightTuple Tuple
	current    Tuple
	err        error
}

// NewHashJoinExecutor joins left against right on equality of the key
// expressions.
func NewHashJoinExecutor(left, right Executor, leftKey, rightKey ValuesFunc) *HashJoinExecutor {
	return &HashJoinExecutor{left: left, right: right, leftKey: leftKey, rightKey: rightKey}
}

func (e *HashJoinExecutor) Init(ctx *ExecutorContext) error {
	e.table = nil
	e.built = false
	e.matches = nil
	e.matchIdx = 0
	e.err = nil
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	return e.right.Init(ctx)
}

// buildPhase drains the left child into the hash table.
func (e *HashJoinExecutor) buildPhase() error {
	e.table = NewExecHashTable[[]Tuple]()
	for e.left.Next() {
		tuple := e.left.Current()
		key := e.leftKey(tuple)
		existing, _ := e.table.Get(key)
		e.table.Put(key, append(existing, tuple))
	}
	return e.left.Error()
}

func (e *HashJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if !e.built {
		if err := e.buildPhase(); err != nil {
			e.err = err
			return false
		}
		e.built = true
	}

	for {
		if e.matchIdx == len(e.matches) {
			if !e.right.Next() {
				e.err = e.right.Error()
				return false
			}
			e.rightTuple = e.right.Current()
			matches, found := e.table.Get(e.rightKey(e.rightTuple))
			if !found {
				continue
			}
			e.matches = matches
			e.matchIdx = 0
		}
		left := e.matches[e.matchIdx]
		e.matchIdx++
		e.current = joinTuples(left, e.rightTuple)
		return true
	}
}

func (e *HashJoinExecutor) Current() Tuple { return e.current }

func (e *HashJoinExecutor) Error() error { return e.err }

func (e *HashJoinExecutor) Close() error {
	err1 := e.right.Close()
	err2 := e.left.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

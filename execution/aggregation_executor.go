package execution

import (
	"github.com/kestreldb/kestrel/common"
)

// AggType selects an aggregate function over an integer column.
type AggType int

const (
	AggCount AggType = iota
	AggSum
	AggMin
	AggMax
)

// Aggregate pairs an aggregate function with the column it reads. The
// column is ignored for AggCount.
type Aggregate struct {
	Type   AggType
	Column int
}

// aggState accumulates one group's running aggregates.
type aggState struct {
	count int64
	sums  []int64
	mins  []int64
	maxs  []int64
	seen  bool
}

// AggregationExecutor materializes grouped aggregates over its child: the
// child is drained into a hash table keyed by the group-by columns, then
// the groups are emitted, filtered by the optional HAVING predicate.
// Output tuples hold the group-by values followed by one value per
// aggregate, in declaration order.
type AggregationExecutor struct {
	child      Executor
	groupBy    []int
	aggregates []Aggregate
	having     Predicate

	results []Tuple
	nextIdx int
	current Tuple
	err     error
}

// NewAggregationExecutor groups the child's output by the groupBy columns
// and computes the aggregates. A nil having keeps every group; an empty
// groupBy produces a single global group.
func NewAggregationExecutor(child Executor, groupBy []int, aggregates []Aggregate, having Predicate) *AggregationExecutor {
	return &AggregationExecutor{
		child:      child,
		groupBy:    groupBy,
		aggregates: aggregates,
		having:     having,
	}
}

func (e *AggregationExecutor) Init(ctx *ExecutorContext) error {
	e.results = nil
	e.nextIdx = 0
	e.err = nil
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	return e.materialize()
}

func (e *AggregationExecutor) materialize() error {
	table := NewExecHashTable[*aggState]()

	for e.child.Next() {
		tuple := e.child.Current()

		key := make([]common.Value, len(e.groupBy))
		for i, col := range e.groupBy {
			key[i] = tuple.Column(col)
		}

		state, found := table.Get(key)
		if !found {
			state = &aggState{
				sums: make([]int64, len(e.aggregates)),
				mins: make([]int64, len(e.aggregates)),
				maxs: make([]int64, len(e.aggregates)),
			}
			table.Put(key, state)
		}
		state.count++
		for i, agg := range e.aggregates {
			if agg.Type == AggCount {
				continue
			}
			v := tuple.Column(agg.Column).IntValue()
			state.sums[i] += v
			if !state.seen || v < state.mins[i] {
				state.mins[i] = v
			}
			if !state.seen || v > state.maxs[i] {
				state.maxs[i] = v
			}
		}
		state.seen = true
	}
	if err := e.child.Error(); err != nil {
		return err
	}

	table.Range(func(key []common.Value, state *aggState) bool {
		values := make([]common.Value, 0, len(key)+len(e.aggregates))
		values = append(values, key...)
		for i, agg := range e.aggregates {
			switch agg.Type {
			case AggCount:
				values = append(values, common.NewIntValue(state.count))
			case AggSum:
				values = append(values, common.NewIntValue(state.sums[i]))
			case AggMin:
				values = append(values, common.NewIntValue(state.mins[i]))
			case AggMax:
				values = append(values, common.NewIntValue(state.maxs[i]))
			}
		}
		group := Tuple{Values: values}
		if e.having == nil || e.having(group) {
			e.results = append(e.results, group)
		}
		return true
	})
	return nil
}

func (e *AggregationExecutor) Next() bool {
	if e.err != nil || e.nextIdx >= len(e.results) {
		return false
	}
	e.current = e.results[e.nextIdx]
	e.nextIdx++
	return true
}

func (e *AggregationExecutor) Current() Tuple { return e.current }

func (e *AggregationExecutor) Error() error { return e.err }

func (e *AggregationExecutor) Close() error { return e.child.Close() }

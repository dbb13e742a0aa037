package execution

// DistinctExecutor suppresses duplicate tuples from its child, comparing
// every column. The first occurrence of each distinct row passes through.
type DistinctExecutor struct {
	child Executor

	seen    *ExecHashTable[struct{}]
	current Tuple
	err     error
}

// NewDistinctExecutor deduplicates the child's output.
func NewDistinctExecutor(child Executor) *DistinctExecutor {
	return &DistinctExecutor{child: child}
}

func (e *DistinctExecutor) Init(ctx *ExecutorContext) error {
	e.seen = NewExecHashTable[struct{}]()
	e.err = nil
	return e.child.Init(ctx)
}

func (e *DistinctExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	for e.child.Next() {
		tuple := e.child.Current()
		if _, found := e.seen.Get(tuple.Values); found {
			continue
		}
		e.seen.Put(tuple.Values, struct{}{})
		e.current = tuple
		return true
	}
	e.err = e.child.Error()
	return false
}

func (e *DistinctExecutor) Current() Tuple { return e.current }

func (e *DistinctExecutor) Error() error { return e.err }

func (e *DistinctExecutor) Close() error { return e.child.Close() }

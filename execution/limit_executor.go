package execution

// LimitExecutor passes through at most limit tuples from its child.
type LimitExecutor struct {
	child Executor
	limit int

	emitted int
	err     error
}

// NewLimitExecutor caps the child's output at limit tuples.
func NewLimitExecutor(child Executor, limit int) *LimitExecutor {
	return &LimitExecutor{child: child, limit: limit}
}

func (e *LimitExecutor) Init(ctx *ExecutorContext) error {
	e.emitted = 0
	e.err = nil
	return e.child.Init(ctx)
}

func (e *LimitExecutor) Next() bool {
	if e.err != nil || e.emitted >= e.limit {
		return false
	}
	if !e.child.Next() {
		e.err = e.child.Error()
		return false
	}
	e.emitted++
	return true
}

func (e *LimitExecutor) Current() Tuple { return e.child.Current() }

func (e *LimitExecutor) Error() error { return e.err }

func (e *LimitExecutor) Close() error { return e.child.Close() }

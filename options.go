package taskgraph

import "math/rand"

// execConfig collects ExecutorOption values before construction. Never
// exposed directly — always go through NewExecutor/NewExecutorWithCUDA.
type execConfig struct {
	cudaWorkers int
	observer    Observer
	newRand     func(workerID int) *rand.Rand
}

// ExecutorOption configures an Executor at construction time (functional
// options, grounded in the corpus's own Config/With* builder idiom
// rather than a mutable options struct passed by the caller directly).
type ExecutorOption func(*execConfig)

// WithCudaWorkers enables the CUDA domain with n workers. Equivalent to
// using NewExecutorWithCUDA directly; provided so callers building
// options lists uniformly don't need a separate constructor.
func WithCudaWorkers(n int) ExecutorOption {
	return func(c *execConfig) { c.cudaWorkers = n }
}

// WithObserver installs obs at construction time, before any worker
// goroutine starts, avoiding the install-while-running race that
// MakeObserver must otherwise guard against.
func WithObserver(obs Observer) ExecutorOption {
	return func(c *execConfig) { c.observer = obs }
}

// WithRandSource overrides the per-worker victim-selection RNG
// constructor. Mainly useful for deterministic tests of the
// work-stealing path.
func WithRandSource(newRand func(workerID int) *rand.Rand) ExecutorOption {
	return func(c *execConfig) { c.newRand = newRand }
}

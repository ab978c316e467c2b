package taskgraph

import (
	"sync"

	"github.com/swstarlab-infolab/taskgraph/internal/rc"
)

// Future is returned by Run/RunN/RunUntil. It completes after the final
// run's completion callback has been invoked (invariant T3: the promise
// is set exactly once, after the callback runs). Safe to wait on from any
// goroutine; the graph must remain live until the Future resolves.
type Future struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the run completes.
func (f *Future) Wait() { <-f.done }

// Done returns a channel closed on completion, for use in select.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the first user-callable failure observed, if any. Only
// meaningful after Done is closed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Future) fulfill(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// Topology is one run instance of a Graph: it owns the per-run source
// set, outstanding-work counter, stop predicate, completion callback, and
// completion Future (spec §3).
type Topology struct {
	graph *Graph

	sources []*Node
	// outstanding tracks released-but-not-drained work at the topology
	// level (spec: "outstanding-work counter").
	outstanding *rc.Counter

	// predicate is invoked between runs; returning true tears the
	// topology down, false re-seeds it. A nil predicate (Run) tears the
	// topology down after exactly one run; RunN passes a predicate that
	// returns true once N runs have completed.
	predicate func(iteration int) bool
	iteration int

	callback func()

	mu       sync.Mutex
	firstErr error

	future *Future
}

func newTopology(g *Graph, predicate func(int) bool, callback func()) *Topology {
	return &Topology{
		graph:       g,
		outstanding: rc.New(0),
		predicate:   predicate,
		callback:    callback,
		future:      newFuture(),
	}
}

// recordFailure keeps the first user-callable failure observed (spec §7:
// "the runtime makes no guarantee about other in-flight work" — later
// failures are dropped, only the first is surfaced).
func (t *Topology) recordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstErr == nil {
		t.firstErr = err
	}
}

func (t *Topology) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstErr
}

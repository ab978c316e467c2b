package taskgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swstarlab-infolab/taskgraph/cudaflow"
)

func waitOrFail(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
	require.NoError(t, f.Err())
}

// TestChainRunsInOrder covers the textbook A->B->C chain: each node's
// join counter must hit zero exactly once, and completion order must
// respect the edges.
func TestChainRunsInOrder(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("chain")

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	a := g.NewStatic("a", func() { record("a") })
	b := g.NewStatic("b", func() { record("b") })
	c := g.NewStatic("c", func() { record("c") })
	a.Precede(b)
	b.Precede(c)

	waitOrFail(t, e.Run(g))

	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Errorf("completion order mismatch (-want +got):\n%s", diff)
	}
}

// TestDiamondRunsSinksAfterBothBranches covers A->{B,C}->D: D must not
// run until both B and C have completed, and must run exactly once.
func TestDiamondRunsSinksAfterBothBranches(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("diamond")

	var bDone, cDone atomic.Bool
	var dRuns atomic.Int32
	var sawBothBeforeD atomic.Bool

	a := g.NewStatic("a", func() {})
	b := g.NewStatic("b", func() { bDone.Store(true) })
	c := g.NewStatic("c", func() { cDone.Store(true) })
	d := g.NewStatic("d", func() {
		if bDone.Load() && cDone.Load() {
			sawBothBeforeD.Store(true)
		}
		dRuns.Add(1)
	})
	a.Precede(b)
	a.Precede(c)
	b.Precede(d)
	c.Precede(d)

	waitOrFail(t, e.Run(g))

	assert.True(t, sawBothBeforeD.Load(), "d ran before both predecessors finished")
	assert.Equal(t, int32(1), dRuns.Load())
}

// TestConditionSkipsUnchosenBranch ensures only the chosen successor of
// a condition node runs, and that a downstream node which strong-depends
// on the unchosen branch never runs while the run itself still completes.
func TestConditionSkipsUnchosenBranch(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("cond")

	var leftRan, rightRan atomic.Bool
	var joinRuns atomic.Int32

	cond := g.NewCondition("cond", func() int { return 1 }) // choose "right"
	left := g.NewStatic("left", func() { leftRan.Store(true) })
	right := g.NewStatic("right", func() { rightRan.Store(true) })
	// join strong-depends on both left and right (neither predecessor is
	// a condition node), so it only runs once every strong predecessor
	// has decremented its join counter. Since left is never scheduled,
	// join's counter never reaches zero and join never runs — the same
	// join-counter semantics the teacher's node.go implements.
	join := g.NewStatic("join", func() { joinRuns.Add(1) })

	cond.Precede(left)
	cond.Precede(right)
	left.Precede(join)
	right.Precede(join)

	waitOrFail(t, e.Run(g))

	assert.False(t, leftRan.Load())
	assert.True(t, rightRan.Load())
	assert.Equal(t, int32(0), joinRuns.Load())
}

// TestRunNRepeatsConditionGraph drives the same condition graph
// across several topology iterations via RunN, checking the
// condition node's branch choice is re-evaluated fresh every run
// (invariant: a condition node's join counter is reset up front on
// every invocation, not left over from a prior run).
func TestRunNRepeatsConditionGraph(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("repeated-cond")

	var runsSoFar atomic.Int32
	var leftCount, rightCount atomic.Int32

	cond := g.NewCondition("cond", func() int {
		n := runsSoFar.Add(1)
		if n%2 == 1 {
			return 0
		}
		return 1
	})
	left := g.NewStatic("left", func() { leftCount.Add(1) })
	right := g.NewStatic("right", func() { rightCount.Add(1) })
	cond.Precede(left)
	cond.Precede(right)

	waitOrFail(t, e.RunN(g, 4))

	assert.Equal(t, int32(2), leftCount.Load())
	assert.Equal(t, int32(2), rightCount.Load())
}

// TestJoinedDynamicWaitsForSubflow ensures a joined subflow's spawner
// does not release its own successors until every spawned node drains.
func TestJoinedDynamicWaitsForSubflow(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("dyn-joined")

	var subDone atomic.Bool
	var afterSawSubDone atomic.Bool

	spawner := g.NewDynamic("spawner", func(sub *Graph) {
		sub.NewStatic("inner", func() { subDone.Store(true) })
	})
	after := g.NewStatic("after", func() {
		if subDone.Load() {
			afterSawSubDone.Store(true)
		}
	})
	spawner.Precede(after)

	waitOrFail(t, e.Run(g))

	assert.True(t, afterSawSubDone.Load())
}

// TestDetachedDynamicDoesNotBlockSuccessor ensures a detached subflow's
// nodes become topology-level work and do not gate the spawner's own
// successors.
func TestDetachedDynamicDoesNotBlockSuccessor(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("dyn-detached")

	var innerRan atomic.Bool

	spawner := g.NewDynamic("spawner", func(sub *Graph) {
		sub.NewStatic("inner", func() { innerRan.Store(true) })
	}).Detach()
	after := g.NewStatic("after", func() {})
	spawner.Precede(after)

	waitOrFail(t, e.Run(g))

	// The topology's outstanding counter must still have drained the
	// detached inner node before the Future resolves, even though
	// "after" didn't wait on it directly.
	assert.True(t, innerRan.Load())
}

// TestModuleInlinesReferencedGraph exercises NewModule: the referenced
// graph's nodes run as children of the module node within the same run.
func TestModuleInlinesReferencedGraph(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	ref := NewGraph("ref")
	var refRan atomic.Bool
	ref.NewStatic("refNode", func() { refRan.Store(true) })

	g := NewGraph("host")
	mod := g.NewModule("mod", ref)
	after := g.NewStatic("after", func() {})
	mod.Precede(after)

	waitOrFail(t, e.Run(g))

	assert.True(t, refRan.Load())
}

// TestCrossDomainSuccessorRunsOnCorrectDomain ensures a CUDA-domain
// successor of a HOST node is actually executed by a CUDA worker.
func TestCrossDomainSuccessorRunsOnCorrectDomain(t *testing.T) {
	e := NewExecutorWithCUDA(2, 2)
	defer e.Close()

	g := NewGraph("cross")

	var sawDomain Domain
	var mu sync.Mutex

	host := g.NewStatic("host", func() {})
	gpu := g.NewGPUFlow("gpu", func(pool *cudaflow.Pool) error {
		return pool.Run(context.Background(), []cudaflow.Launch{
			func(ctx context.Context) error {
				mu.Lock()
				sawDomain = CUDA
				mu.Unlock()
				return nil
			},
		})
	})
	host.Precede(gpu)

	waitOrFail(t, e.Run(g))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, CUDA, sawDomain)
}

// TestRunNRepeatsExactlyN checks the repeated-run predicate path
// (tearDownTopology's re-seed branch) runs the graph n times total.
func TestRunNRepeatsExactlyN(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("repeat")
	var runs atomic.Int32
	g.NewStatic("only", func() { runs.Add(1) })

	waitOrFail(t, e.RunN(g, 5))

	assert.Equal(t, int32(5), runs.Load())
}

// TestFailingTaskSurfacesOnFuture ensures a panicking task's error is
// recorded and observable via Future.Err without crashing the worker
// pool (spec §7: other in-flight work has no completion guarantee, but
// the executor itself must stay alive).
func TestFailingTaskSurfacesOnFuture(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	g := NewGraph("fail")
	g.NewStatic("boom", func() { panic("kaboom") })

	f := e.Run(g)
	waitOrFailAllowErr(t, f)
	assert.Error(t, f.Err())

	// executor must still be usable afterward
	g2 := NewGraph("ok")
	var ran atomic.Bool
	g2.NewStatic("fine", func() { ran.Store(true) })
	waitOrFail(t, e.Run(g2))
	assert.True(t, ran.Load())
}

func waitOrFailAllowErr(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
}

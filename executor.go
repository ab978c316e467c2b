package taskgraph

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/swstarlab-infolab/taskgraph/cudaflow"
	"github.com/swstarlab-infolab/taskgraph/internal/gls"
	"github.com/swstarlab-infolab/taskgraph/internal/notifier"
	"github.com/swstarlab-infolab/taskgraph/internal/rc"
	"github.com/swstarlab-infolab/taskgraph/internal/wsq"
)

const (
	exploreFailuresBeforeYield = 100
	exploreYieldsBeforeSleep   = 100
)

// Worker is one persistent goroutine's scheduling state: a per-domain
// deque array (a worker may locally buffer work for any domain, even
// one it doesn't execute, per spec §2), a single-slot bypass cache for
// cache-friendly tail chaining, and a parkable waiter.
type Worker struct {
	id     int
	domain Domain
	exec   *Executor

	deques [numDomains]*wsq.Deque[*Node]
	cache  *Node

	rng    *rand.Rand
	waiter *notifier.Waiter
}

// Executor owns a fixed pool of per-domain Workers, the global overflow
// deque and Notifier for every domain, and the bookkeeping needed to
// run one or many Graphs concurrently (grounded in the teacher's
// innerExecutorImpl, generalized from a single worker pool + queue into
// the domain-aware work-stealing design spec.md §2/§4 describe).
type Executor struct {
	workersByDomain [numDomains][]*Worker
	allWorkers      []*Worker

	globalDeques [numDomains]*globalQueue
	notifiers    [numDomains]*notifier.Notifier

	numActives [numDomains]*atomic.Int64
	numThieves [numDomains]*atomic.Int64

	done sync.Once
	shut chan struct{}

	topoMu        sync.Mutex
	topoCond      *sync.Cond
	numTopologies int

	obsMu    sync.Mutex
	observer Observer

	registry *gls.Registry

	// gpuPool bounds the concurrent native stream launches submitted by
	// every GPUFlowFn invocation of this Executor (one pool shared by all
	// GPU flows, stopped in Close); it is independent of the per-domain deque/worker-loop scheduling that
	// decides which CUDA-domain Node runs next.
	gpuPool *cudaflow.Pool

	wg sync.WaitGroup
}

// globalQueue is a per-domain overflow deque: its owner (push) side is
// guarded by a mutex shared among external, non-worker producers (spec
// §2: "protected by one mutex shared among external producers"); its
// thief (steal) side reuses the same lock-free wsq.Deque a worker would.
type globalQueue struct {
	mu sync.Mutex
	dq *wsq.Deque[*Node]
}

func newGlobalQueue() *globalQueue {
	return &globalQueue{dq: wsq.New[*Node](64)}
}

func (q *globalQueue) push(n *Node) {
	q.mu.Lock()
	q.dq.PushBottom(n)
	q.mu.Unlock()
}

func (q *globalQueue) pushAll(ns []*Node) {
	q.mu.Lock()
	for _, n := range ns {
		q.dq.PushBottom(n)
	}
	q.mu.Unlock()
}

func (q *globalQueue) steal() (*Node, bool) { return q.dq.Steal() }
func (q *globalQueue) empty() bool          { return q.dq.Empty() }

// NewExecutor constructs an Executor with hostWorkers HOST-domain
// workers and no CUDA domain. hostWorkers must be at least 1.
func NewExecutor(hostWorkers int, opts ...ExecutorOption) *Executor {
	return newExecutor(hostWorkers, 0, opts)
}

// NewExecutorWithCUDA additionally stands up a CUDA domain with
// cudaWorkers workers. Both counts must be at least 1.
func NewExecutorWithCUDA(hostWorkers, cudaWorkers int, opts ...ExecutorOption) *Executor {
	if cudaWorkers <= 0 {
		panic(ErrZeroWorkers)
	}
	return newExecutor(hostWorkers, cudaWorkers, opts)
}

func newExecutor(hostWorkers, cudaWorkers int, opts []ExecutorOption) *Executor {
	cfg := execConfig{cudaWorkers: cudaWorkers, observer: noopObserver{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	if hostWorkers <= 0 {
		panic(ErrZeroWorkers)
	}
	if cfg.cudaWorkers < 0 {
		panic(ErrZeroWorkers)
	}

	e := &Executor{
		registry: gls.NewRegistry(),
		observer: cfg.observer,
		shut:     make(chan struct{}),
		gpuPool:  cudaflow.NewPool(cfg.cudaWorkers),
	}
	e.topoCond = sync.NewCond(&e.topoMu)

	for d := Domain(0); d < numDomains; d++ {
		e.globalDeques[d] = newGlobalQueue()
		e.notifiers[d] = notifier.New()
		e.numActives[d] = &atomic.Int64{}
		e.numThieves[d] = &atomic.Int64{}
	}

	counts := [numDomains]int{HOST: hostWorkers, CUDA: cfg.cudaWorkers}

	id := 0
	for d := Domain(0); d < numDomains; d++ {
		for i := 0; i < counts[d]; i++ {
			rng := rand.New(rand.NewSource(int64(id) + 1))
			if cfg.newRand != nil {
				rng = cfg.newRand(id)
			}
			w := &Worker{
				id:     id,
				domain: d,
				exec:   e,
				rng:    rng,
				waiter: notifier.NewWaiter(),
			}
			for dd := Domain(0); dd < numDomains; dd++ {
				w.deques[dd] = wsq.New[*Node](256)
			}
			e.notifiers[d].Add(w.waiter)
			e.workersByDomain[d] = append(e.workersByDomain[d], w)
			e.allWorkers = append(e.allWorkers, w)
			id++
		}
	}

	e.observer.SetUp(len(e.allWorkers))

	for _, w := range e.allWorkers {
		e.wg.Add(1)
		go e.workerLoop(w)
	}

	return e
}

// NumWorkers returns the total worker count across every domain.
func (e *Executor) NumWorkers() int { return len(e.allWorkers) }

// NumDomains returns how many domains have at least one worker.
func (e *Executor) NumDomains() int {
	n := 0
	for d := Domain(0); d < numDomains; d++ {
		if len(e.workersByDomain[d]) > 0 {
			n++
		}
	}
	return n
}

// ThisWorkerID reports the id of the worker running the calling
// goroutine, if the caller is in fact a worker goroutine (i.e. running
// inside a task callable).
func (e *Executor) ThisWorkerID() (int, bool) { return e.registry.Lookup() }

// NumTopologies returns how many runs are currently in flight across
// every graph this executor serves.
func (e *Executor) NumTopologies() int {
	e.topoMu.Lock()
	defer e.topoMu.Unlock()
	return e.numTopologies
}

// WaitForAll blocks until every in-flight run, on every graph, has
// completed.
func (e *Executor) WaitForAll() {
	e.topoMu.Lock()
	for e.numTopologies > 0 {
		e.topoCond.Wait()
	}
	e.topoMu.Unlock()
}

// Close waits for in-flight work to drain, then shuts every worker
// goroutine down. The Executor must not be used afterward.
func (e *Executor) Close() {
	e.WaitForAll()
	e.done.Do(func() { close(e.shut) })
	for d := Domain(0); d < numDomains; d++ {
		e.notifiers[d].Notify(true)
	}
	e.wg.Wait()
	e.gpuPool.StopWait()
}

func (e *Executor) isDone() bool {
	select {
	case <-e.shut:
		return true
	default:
		return false
	}
}

// MakeObserver installs obs, replacing any previous Observer. In Debug
// builds, installing while runs are in flight is a contract violation
// (see DESIGN.md, Open Question 1) since a worker may already be
// mid-OnEntry/OnExit pair against the old Observer.
func (e *Executor) MakeObserver(obs Observer) {
	if Debug && e.NumTopologies() > 0 {
		panic(ErrObserverBusy)
	}
	e.obsMu.Lock()
	e.observer = obs
	e.obsMu.Unlock()
	obs.SetUp(e.NumWorkers())
}

// RemoveObserver uninstalls the current Observer.
func (e *Executor) RemoveObserver() {
	if Debug && e.NumTopologies() > 0 {
		panic(ErrObserverBusy)
	}
	e.obsMu.Lock()
	e.observer = noopObserver{}
	e.obsMu.Unlock()
}

func (e *Executor) currentObserver() Observer {
	e.obsMu.Lock()
	obs := e.observer
	e.obsMu.Unlock()
	return obs
}

func (e *Executor) observeEntry(workerID int, view TaskView) {
	e.currentObserver().OnEntry(workerID, view)
}

func (e *Executor) observeExit(workerID int, view TaskView) {
	e.currentObserver().OnExit(workerID, view)
}

// ---- public run API (spec §4.7) --------------------------------------

func countPredicate(n int) func(int) bool {
	return func(iteration int) bool { return iteration >= n }
}

func wrapPredicate(pred func() bool) func(int) bool {
	if pred == nil {
		return nil
	}
	return func(int) bool { return pred() }
}

// Run schedules g once and returns a Future that resolves when it
// completes.
func (e *Executor) Run(g *Graph) *Future { return e.runUntil(g, nil, nil) }

// RunWithCallback is Run, invoking cb exactly once, right before the
// returned Future resolves. cb runs on a worker goroutine, except when g
// has no nodes: then it runs on the caller's goroutine before RunWithCallback
// returns.
func (e *Executor) RunWithCallback(g *Graph, cb func()) *Future {
	return e.runUntil(g, nil, cb)
}

// RunN schedules g repeatedly until it has run n times.
func (e *Executor) RunN(g *Graph, n int) *Future { return e.runUntil(g, countPredicate(n), nil) }

// RunNWithCallback is RunN with a completion callback.
func (e *Executor) RunNWithCallback(g *Graph, n int, cb func()) *Future {
	return e.runUntil(g, countPredicate(n), cb)
}

// RunUntil schedules g repeatedly until pred returns true, checked
// after every run (and once, up front, before the first run).
func (e *Executor) RunUntil(g *Graph, pred func() bool) *Future {
	return e.runUntil(g, wrapPredicate(pred), nil)
}

// RunUntilWithCallback is RunUntil with a completion callback.
func (e *Executor) RunUntilWithCallback(g *Graph, pred func() bool, cb func()) *Future {
	return e.runUntil(g, wrapPredicate(pred), cb)
}

func (e *Executor) runUntil(g *Graph, pred func(int) bool, cb func()) *Future {
	if len(g.nodes) == 0 || (pred != nil && pred(0)) {
		f := newFuture()
		if cb != nil {
			cb()
		}
		f.fulfill(nil)
		return f
	}

	tpg := newTopology(g, pred, cb)

	e.topoMu.Lock()
	e.numTopologies++
	e.topoMu.Unlock()

	if g.pushTopology(tpg) {
		// The previous front may have been popped but not yet have
		// released the gate; wait for it rather than leave tpg unstarted.
		_ = g.gate.Acquire(context.Background(), 1)
		e.beginTopology(nil, tpg)
	}
	return tpg.future
}

func (e *Executor) beginTopology(w *Worker, tpg *Topology) {
	tpg.graph.reset()
	tpg.sources = tpg.graph.entries()
	for _, n := range tpg.graph.nodes {
		n.topology = tpg
	}
	tpg.outstanding.Set(len(tpg.sources))
	e.scheduleAll(w, tpg.sources)
}

func (e *Executor) tearDownTopology(w *Worker, tpg *Topology) {
	tpg.iteration++
	done := tpg.predicate == nil || tpg.predicate(tpg.iteration)

	if !done {
		tpg.outstanding.Set(len(tpg.sources))
		e.scheduleAll(w, tpg.sources)
		return
	}

	if tpg.callback != nil {
		tpg.callback()
	}

	g := tpg.graph
	next := g.popTopology(tpg)
	err := tpg.failure()
	tpg.future.fulfill(err)
	g.gate.Release(1)

	e.topoMu.Lock()
	e.numTopologies--
	if e.numTopologies == 0 {
		e.topoCond.Broadcast()
	}
	e.topoMu.Unlock()

	if next != nil && g.gate.TryAcquire(1) {
		e.beginTopology(w, next)
	}
}

// ---- join-site bookkeeping (spec §4.5) -------------------------------

// joinSite resolves the counter a node's completion (or a dynamic/module
// spawn's compensating +1) is accounted against: its parent's join
// counter if it has one, else its topology's outstanding counter.
func joinSite(n *Node) (c *rc.Counter, isTopology bool) {
	if n.parent != nil {
		return n.parent.join, false
	}
	return n.topology.outstanding, true
}

func (e *Executor) incJoinSite(n *Node, delta int) {
	c, _ := joinSite(n)
	c.Add(delta)
}

// climbJoin applies a batched completion count to n's join site. Every
// node released via releaseSuccessors/invokeConditionNode increments that
// same site by exactly 1 when it is released (see releaseSuccessors),
// so the cumulative total subtracted here, across however many workers
// flush their own batches, lands on exactly zero the instant every
// spawned descendant has completed — never before, regardless of how
// batching splits the work across workers.
func (e *Executor) climbJoin(w *Worker, parent *Node, tpg *Topology, exe int) {
	for {
		if parent == nil {
			if tpg.outstanding.Add(-exe) == 0 {
				e.tearDownTopology(w, tpg)
			}
			return
		}
		if parent.join.Add(-exe) != 0 {
			return
		}
		if parent.domain != w.domain {
			e.scheduleNode(w, parent, false)
			return
		}
		// Same domain: the finishing worker is the join point. Run the
		// parent's second visit directly (no requeue), then climb to its
		// own site — this is the cache-friendly "continue as the parent"
		// path spec.md's join accounting describes. The bypass cache is a
		// single slot: if a prior climb step already left a hot successor
		// there, drain it to the deque first so this invoke's own release
		// doesn't clobber it.
		if w.cache != nil {
			w.deques[w.domain].PushBottom(w.cache)
			w.cache = nil
		}
		e.invoke(w, parent)
		parent, tpg, exe = parent.parent, parent.topology, 1
	}
}

// ---- worker loop (spec §4.3) -----------------------------------------

func (e *Executor) workerLoop(w *Worker) {
	defer e.wg.Done()
	e.registry.Bind(w.id)
	defer e.registry.Unbind()

	var t *Node
	for {
		e.exploitTask(w, t)
		var ok bool
		t, ok = e.waitForTask(w)
		if !ok {
			return
		}
	}
}

func (e *Executor) exploitTask(w *Worker, t *Node) {
	if t == nil {
		return
	}
	d := w.domain
	if e.numActives[d].Add(1) == 1 && e.numThieves[d].Load() == 0 {
		e.notifiers[d].Notify(false)
	}

	var (
		exe       int
		curParent *Node
		curTpg    *Topology
		active    bool
	)

	flush := func() {
		if active && exe > 0 {
			e.climbJoin(w, curParent, curTpg, exe)
		}
		exe = 0
		active = false
	}

	for {
		if active && (t.parent != curParent || t.topology != curTpg) {
			flush()
		}
		curParent, curTpg, active = t.parent, t.topology, true

		e.invoke(w, t)
		exe++

		var next *Node
		if w.cache != nil {
			next, w.cache = w.cache, nil
		} else if nt, ok := w.deques[d].PopBottom(); ok {
			next = nt
		}

		if next == nil {
			// flush() may climb into the parent's (or grandparent's...)
			// own second visit, whose successor release can deposit a
			// fresh hot successor straight into w.cache — re-check before
			// giving up, or that successor is stranded forever (no other
			// worker can see a private cache slot).
			flush()
			if w.cache != nil {
				next, w.cache = w.cache, nil
			}
		}

		if next == nil {
			e.numActives[d].Add(-1)
			return
		}
		t = next
	}
}

func (e *Executor) exploreTask(w *Worker, d Domain) (*Node, bool) {
	victims := e.allWorkers
	n := len(victims)
	if n == 0 {
		return nil, false
	}

	fails, yields := 0, 0
	for {
		pick := w.rng.Intn(n + 1)
		var (
			node *Node
			ok   bool
		)
		if pick == n {
			node, ok = e.globalDeques[d].steal()
		} else {
			node, ok = victims[pick].deques[d].Steal()
		}
		if ok {
			return node, true
		}

		fails++
		if fails >= exploreFailuresBeforeYield {
			runtime.Gosched()
			fails = 0
			yields++
			if yields >= exploreYieldsBeforeSleep {
				return nil, false
			}
		}
	}
}

func (e *Executor) anyDequeNonEmpty(d Domain) bool {
	for _, w := range e.allWorkers {
		if !w.deques[d].Empty() {
			return true
		}
	}
	return !e.globalDeques[d].empty()
}

func (e *Executor) thiefDone(d Domain) {
	if e.numThieves[d].Add(-1) == 0 {
		e.notifiers[d].Notify(false)
	}
}

func (e *Executor) waitForTask(w *Worker) (*Node, bool) {
	d := w.domain

	for {
		e.numThieves[d].Add(1)

		if t, ok := e.exploreTask(w, d); ok {
			e.thiefDone(d)
			return t, true
		}

		waiter := w.waiter
		waiter.PrepareWait()

		if !e.globalDeques[d].empty() {
			waiter.CancelWait()
			if t, ok := e.globalDeques[d].steal(); ok {
				e.thiefDone(d)
				return t, true
			}
			e.numThieves[d].Add(-1)
			continue
		}

		if e.isDone() {
			waiter.CancelWait()
			e.numThieves[d].Add(-1)
			e.notifiers[d].Notify(true)
			return nil, false
		}

		if e.numThieves[d].Load() == 1 && e.numActives[d].Load() > 0 {
			waiter.CancelWait()
			e.numThieves[d].Add(-1)
			continue
		}

		if e.anyDequeNonEmpty(d) {
			waiter.CancelWait()
			e.numThieves[d].Add(-1)
			continue
		}

		waiter.CommitWait()
		e.numThieves[d].Add(-1)
		// Woken: either notified with real work available, or a
		// shutdown broadcast; either way retry from the top.
	}
}

// ---- scheduling entry points (spec §4.4) -----------------------------

// scheduleNode is the single-node _schedule entry point. w is nil for
// an external (non-worker) caller.
func (e *Executor) scheduleNode(w *Worker, n *Node, bypass bool) {
	d := n.domain

	if w == nil {
		e.globalDeques[d].push(n)
		e.notifiers[d].Notify(false)
		return
	}

	if bypass {
		if Debug && w.cache != nil {
			panic(ErrCacheOccupied)
		}
		w.cache = n
		return
	}

	w.deques[d].PushBottom(n)
	if d != w.domain && e.numActives[d].Load() == 0 && e.numThieves[d].Load() == 0 {
		e.notifiers[d].Notify(false)
	}
}

func (e *Executor) scheduleBypass(w *Worker, n *Node) { e.scheduleNode(w, n, true) }

// scheduleAll is the batch _schedule entry point, used for topology
// seeding and subflow/module source dispatch.
func (e *Executor) scheduleAll(w *Worker, nodes []*Node) {
	if len(nodes) == 0 {
		return
	}

	if w == nil {
		var perDomain [numDomains][]*Node
		for _, n := range nodes {
			perDomain[n.domain] = append(perDomain[n.domain], n)
		}
		for d := Domain(0); d < numDomains; d++ {
			if len(perDomain[d]) == 0 {
				continue
			}
			e.globalDeques[d].pushAll(perDomain[d])
			e.notifiers[d].NotifyN(len(perDomain[d]))
		}
		return
	}

	var perDomain [numDomains]int
	for _, n := range nodes {
		d := n.domain
		w.deques[d].PushBottom(n)
		perDomain[d]++
	}
	for d := Domain(0); d < numDomains; d++ {
		if perDomain[d] == 0 {
			continue
		}
		if d != w.domain && e.numActives[d].Load() == 0 && e.numThieves[d].Load() == 0 {
			e.notifiers[d].NotifyN(perDomain[d])
		}
	}
}

// ---- invocation dispatch (spec §4.2/§4.5) ----------------------------

func (e *Executor) recordPanic(n *Node, r any) {
	fmt.Printf("[recovered] node %q (%s) panicked: %v\nstack:\n%s\n", n.name, n.domain, r, debug.Stack())
	if n.topology != nil {
		n.topology.recordFailure(&TaskError{
			NodeName: n.name,
			Domain:   n.domain,
			Panic:    r,
			Stack:    debug.Stack(),
		})
	}
}

func (e *Executor) invoke(w *Worker, n *Node) {
	switch n.handle.kind {
	case HandleStatic:
		e.invokeStatic(w, n)
	case HandleDynamic:
		e.invokeDynamic(w, n)
	case HandleCondition:
		e.invokeConditionNode(w, n)
	case HandleModule:
		e.invokeModule(w, n)
	case HandleGPU:
		e.invokeGPU(w, n)
	default:
		panic(fmt.Sprintf("taskgraph: unsupported node kind %v", n.handle.kind))
	}
}

func assertDomain(w *Worker, n *Node) {
	if w.domain != n.domain {
		panic(fmt.Errorf("%w: node %q is domain %s, worker is domain %s", ErrForeignSteal, n.name, n.domain, w.domain))
	}
}

func (e *Executor) invokeStatic(w *Worker, n *Node) {
	view := TaskView{Name: n.name, Domain: n.domain, Kind: n.handle.kind}
	e.observeEntry(w.id, view)
	defer e.observeExit(w.id, view)
	defer func() {
		if r := recover(); r != nil {
			e.recordPanic(n, r)
		}
		e.releaseSuccessors(w, n)
	}()
	n.handle.static()
}

func (e *Executor) invokeGPU(w *Worker, n *Node) {
	view := TaskView{Name: n.name, Domain: n.domain, Kind: n.handle.kind}
	e.observeEntry(w.id, view)
	defer e.observeExit(w.id, view)
	defer func() {
		if r := recover(); r != nil {
			e.recordPanic(n, r)
		}
		e.releaseSuccessors(w, n)
	}()
	assertDomain(w, n)
	if err := n.handle.gpu(e.gpuPool); err != nil {
		panic(err)
	}
}

func (e *Executor) invokeDynamic(w *Worker, n *Node) {
	view := TaskView{Name: n.name, Domain: n.domain, Kind: n.handle.kind}
	e.observeEntry(w.id, view)
	defer e.observeExit(w.id, view)

	firstVisit := n.state.Load()&stateSpawned == 0
	if !firstVisit {
		e.releaseSuccessors(w, n)
		return
	}

	var panicVal any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicVal = r
			}
		}()
		n.handle.subgraph = NewGraph(n.name + ".subflow")
		n.handle.dynamic(n.handle.subgraph)
	}()
	n.state.Store(n.state.Load() | stateSpawned)

	if panicVal != nil {
		e.recordPanic(n, panicVal)
		e.releaseSuccessors(w, n)
		return
	}

	sub := n.handle.subgraph
	if len(sub.nodes) == 0 {
		e.releaseSuccessors(w, n)
		return
	}

	var parent *Node
	if !n.handle.detached {
		parent = n
	}
	for _, sn := range sub.nodes {
		sn.setup()
		sn.topology = n.topology
		sn.parent = parent
	}
	sources := sub.entries()

	if n.handle.detached {
		n.topology.outstanding.Add(len(sources))
	} else {
		n.join.Add(len(sources))
		e.incJoinSite(n, 1)
	}

	e.scheduleAll(w, sources)

	if n.handle.detached {
		e.releaseSuccessors(w, n)
	}
	// Joined: return now without releasing successors. climbJoin will
	// re-invoke n (second visit, SPAWNED already set) once every subflow
	// node has drained, and that second pass falls into the branch above.
}

func (e *Executor) invokeModule(w *Worker, n *Node) {
	view := TaskView{Name: n.name, Domain: n.domain, Kind: n.handle.kind}
	e.observeEntry(w.id, view)
	defer e.observeExit(w.id, view)

	firstVisit := n.state.Load()&stateSpawned == 0
	if !firstVisit {
		e.releaseSuccessors(w, n)
		return
	}
	n.state.Store(n.state.Load() | stateSpawned)

	ref := n.handle.module
	for _, rn := range ref.nodes {
		rn.setup()
		rn.topology = n.topology
		rn.parent = n
	}
	sources := ref.entries()

	n.join.Add(len(sources))
	e.incJoinSite(n, 1)

	e.scheduleAll(w, sources)
}

func (e *Executor) invokeConditionNode(w *Worker, n *Node) {
	view := TaskView{Name: n.name, Domain: n.domain, Kind: n.handle.kind}
	e.observeEntry(w.id, view)
	defer e.observeExit(w.id, view)

	// A condition node's own join counter is reset up front rather than
	// via the normal post-hoc successor-release path (spec §4.5): its
	// second (and every subsequent) run in a cyclic graph must become
	// reachable again without ever routing through releaseSuccessors,
	// since a condition node never has "successors released" in the
	// ordinary sense — it releases at most one chosen branch.
	n.join.Set(n.restingCount())
	n.state.Store(n.state.Load() &^ stateBranch)

	numSuccessors := len(n.successors)
	var (
		panicVal any
		id       int
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicVal = r
			}
		}()
		id = n.handle.condition()
	}()

	if panicVal != nil {
		e.recordPanic(n, panicVal)
		return
	}
	if id < 0 || id >= numSuccessors {
		return
	}

	s := n.successors[id]
	s.join.Set(0)
	s.state.Store(s.state.Load() | stateBranch)
	e.incJoinSite(n, 1)

	if s.domain == w.domain {
		e.scheduleBypass(w, s)
	} else {
		e.scheduleNode(w, s, false)
	}
}

// releaseSuccessors implements the normal (non-condition) successor
// release used by every handle kind except Condition: reset n's own
// resting join counter, then walk its successors, decrementing each
// one's join counter and releasing any that reach zero. Every released
// successor increments n's join site by exactly 1 — including the one
// kept in the bypass cache — before it is handed to the scheduler, so no
// thief can run and flush it first, and climbJoin's batched decrement always
// lands on exactly zero once every released descendant has completed,
// regardless of how the batch is split across workers (see climbJoin).
func (e *Executor) releaseSuccessors(w *Worker, n *Node) {
	n.join.Set(n.restingCount())
	n.state.Store(0)

	var hot *Node
	for _, s := range n.successors {
		if s.join.Decrease() != 0 {
			continue
		}
		e.incJoinSite(n, 1)
		if s.domain != w.domain {
			e.scheduleNode(w, s, false)
			continue
		}
		if hot != nil {
			e.scheduleNode(w, hot, false)
		}
		hot = s
	}
	if hot != nil {
		e.scheduleBypass(w, hot)
	}
}

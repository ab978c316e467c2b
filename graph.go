package taskgraph

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Graph is a user-owned container of Nodes — the minimal direct builder
// this module supplies so the executor core can be exercised without the
// full external graph-builder DSL (out of scope per spec §1). Graph
// construction (adding nodes, wiring Precede edges) should not happen
// concurrently with a Run of the same graph.
type Graph struct {
	name  string
	nodes []*Node

	mu         sync.Mutex
	topologies []*Topology // FIFO queue of runs (spec invariant T2)
	// gate enforces "at most one topology per graph is actively
	// scheduling sources at a time" as an explicit, testable resource
	// rather than an implicit property of queue order.
	gate *semaphore.Weighted
}

// NewGraph returns an empty, named Graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name: name,
		gate: semaphore.NewWeighted(1),
	}
}

// Name returns the graph's diagnostic name.
func (g *Graph) Name() string { return g.name }

// Nodes returns the graph's nodes. Do not mutate the returned slice.
func (g *Graph) Nodes() []*Node { return g.nodes }

func (g *Graph) add(n *Node) *Node {
	n.graph = g
	g.nodes = append(g.nodes, n)
	return n
}

// NewStatic creates and adds a static task node.
func (g *Graph) NewStatic(name string, fn StaticFn) *Node {
	n := newNode(name)
	n.handle = handle{kind: HandleStatic, static: fn}
	return g.add(n)
}

// NewDynamic creates and adds a dynamic (subflow-spawning) task node. The
// subflow is joined by default — the spawner's own successors do not run
// until every subflow node completes. Call Detach on the returned node to
// make the subflow detached: its nodes then belong directly to the
// topology, and the spawner's successors may run without waiting on them.
func (g *Graph) NewDynamic(name string, fn DynamicFn) *Node {
	n := newNode(name)
	n.handle = handle{kind: HandleDynamic, dynamic: fn}
	return g.add(n)
}

// NewCondition creates and adds a condition task node. Its successors
// must be added via Precede in the exact order the ConditionFn's return
// value indexes into.
func (g *Graph) NewCondition(name string, fn ConditionFn) *Node {
	n := newNode(name)
	n.handle = handle{kind: HandleCondition, condition: fn}
	return g.add(n)
}

// NewModule creates and adds a node whose body is another graph, inlined
// into the current run as children of this node.
func (g *Graph) NewModule(name string, referenced *Graph) *Node {
	n := newNode(name)
	n.handle = handle{kind: HandleModule, module: referenced}
	return g.add(n)
}

// NewGPUFlow creates and adds a GPU-domain flow node, defaulting its
// domain to CUDA since a GPU flow handle only makes sense there.
func (g *Graph) NewGPUFlow(name string, fn GPUFlowFn) *Node {
	n := newNode(name)
	n.handle = handle{kind: HandleGPU, gpu: fn}
	n.domain = CUDA
	return g.add(n)
}

// Detach marks a dynamic node's subflow as detached (see NewDynamic).
// Only meaningful on HandleDynamic nodes.
func (n *Node) Detach() *Node {
	n.handle.detached = true
	return n
}

// entries returns the nodes with no dependents (source nodes).
func (g *Graph) entries() []*Node {
	var es []*Node
	for _, n := range g.nodes {
		if len(n.dependents) == 0 {
			es = append(es, n)
		}
	}
	return es
}

// reset clears every node's state and recomputes join counters ahead of
// a topology's set-up pass.
func (g *Graph) reset() {
	for _, n := range g.nodes {
		n.setup()
	}
}

// pushTopology enqueues tpg FIFO and reports whether it is now the sole
// entry (i.e. the one the caller sets up and schedules, once it holds
// the gate).
func (g *Graph) pushTopology(tpg *Topology) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	wasEmpty := len(g.topologies) == 0
	g.topologies = append(g.topologies, tpg)
	return wasEmpty
}

// popTopology removes the front topology (which must be tpg) and returns
// the new front, if any.
func (g *Graph) popTopology(tpg *Topology) *Topology {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.topologies) == 0 || g.topologies[0] != tpg {
		panic("taskgraph: popTopology called out of order")
	}
	g.topologies = g.topologies[1:]
	if len(g.topologies) == 0 {
		return nil
	}
	return g.topologies[0]
}

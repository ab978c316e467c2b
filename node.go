package taskgraph

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/swstarlab-infolab/taskgraph/cudaflow"
	"github.com/swstarlab-infolab/taskgraph/internal/rc"
)

// HandleKind tags which of the five task-handle variants a Node carries.
// Dispatch is by this finite kind rather than by an interface hierarchy,
// since the per-kind fields differ enough (a subgraph container for
// dynamic work, a callable returning a branch index for condition work,
// a referenced graph for module work) that a tagged union reads more
// plainly than type-erased embedding would.
type HandleKind int

const (
	HandleStatic HandleKind = iota
	HandleDynamic
	HandleCondition
	HandleModule
	HandleGPU
)

func (k HandleKind) String() string {
	switch k {
	case HandleStatic:
		return "static"
	case HandleDynamic:
		return "dynamic"
	case HandleCondition:
		return "condition"
	case HandleModule:
		return "module"
	case HandleGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// Priority is a per-node label, grounded in the teacher's own
// node.priority / TaskPriority field. It is stored on the node only: the
// scheduler does not read it, so it has no effect on the order in which
// ready successors are pushed or run.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// StaticFn is a plain task body.
type StaticFn func()

// DynamicFn builds a subflow into sub when invoked. It is called at most
// once per spawn, guarded by the SPAWNED state bit.
type DynamicFn func(sub *Graph)

// ConditionFn runs and returns the index of the chosen successor, or any
// value outside [0, numSuccessors) to mean "choose no successor".
type ConditionFn func() int

// GPUFlowFn materializes a platform-native flow and submits its stream
// launches to pool, the Executor's single pool shared by all GPU flows,
// which bounds how many sub-launches run concurrently across them. Actual CUDA stream
// management is out of scope for this module; pool.Run is the stand-in
// for "launch on the worker's stream, synchronize, destroy".
type GPUFlowFn func(pool *cudaflow.Pool) error

// state bits (spec §3: SPAWNED, BRANCH).
const (
	stateSpawned uint32 = 1 << iota
	stateBranch
)

type handle struct {
	kind HandleKind

	static    StaticFn
	dynamic   DynamicFn
	condition ConditionFn
	module    *Graph
	gpu       GPUFlowFn

	// dynamic-only: a detached subflow hands its sources directly to the
	// topology counter instead of joining back through this node.
	detached bool
	// subgraph is the fresh sink the DynamicFn builds into; reset
	// to an empty Graph on every spawn so repeated runs don't accumulate
	// stale nodes.
	subgraph *Graph
}

// Node is the unit of scheduled work.
type Node struct {
	id       uuid.UUID
	name     string
	domain   Domain
	priority Priority
	handle   handle

	successors []*Node
	dependents []*Node

	numDependents       int
	numStrongDependents int

	join  *rc.Counter
	state atomic.Uint32

	topology *Topology
	parent   *Node
	graph    *Graph
}

func newNode(name string) *Node {
	return &Node{
		id:       uuid.New(),
		name:     name,
		domain:   HOST,
		priority: Normal,
		join:     rc.New(0),
	}
}

// Name returns the node's diagnostic name.
func (n *Node) Name() string { return n.name }

// ID returns the node's unique identity.
func (n *Node) ID() uuid.UUID { return n.id }

// Domain returns the node's scheduling domain.
func (n *Node) Domain() Domain { return n.domain }

// SetDomain assigns the node's scheduling domain. Must be called before
// the node's graph is run.
func (n *Node) SetDomain(d Domain) *Node {
	n.domain = d
	return n
}

// SetPriority assigns the node's priority label (see Priority).
func (n *Node) SetPriority(p Priority) *Node {
	n.priority = p
	return n
}

// Precede establishes a normal dependency: v runs only after n completes.
// If n is a condition node, the edge is a conditional branch edge (not
// counted toward v's strong-predecessor count) — see setup.
func (n *Node) Precede(v *Node) *Node {
	n.successors = append(n.successors, v)
	v.dependents = append(v.dependents, n)
	return n
}

func (n *Node) isCondition() bool { return n.handle.kind == HandleCondition }

// JoinCounter exposes the current live join counter value (observability only).
func (n *Node) JoinCounter() int { return n.join.Value() }

// setup recomputes the node's resting predecessor counts and clears its
// state bits, per invariant I1: at rest, join_counter == num_dependents —
// the full predecessor count, including a phantom slot for each
// conditional predecessor that is never satisfied by ordinary decrement
// (it is only ever released by a direct force-to-zero from the
// condition's dispatch; see Executor.invokeConditionNode). num_strong_dependents
// counts only the non-conditional predecessors.
func (n *Node) setup() {
	n.numDependents = 0
	n.numStrongDependents = 0
	for _, dep := range n.dependents {
		n.numDependents++
		if !dep.isCondition() {
			n.numStrongDependents++
		}
	}

	n.state.Store(0)
	n.join.Set(n.numDependents)
}

// restingCount returns the value this node's own join counter is reset
// to once it finishes a normal successor-release (spec §4.5 step 1),
// honoring the BRANCH bit (invariant I5).
func (n *Node) restingCount() int {
	if n.state.Load()&stateBranch != 0 {
		return n.numStrongDependents
	}
	return n.numDependents
}

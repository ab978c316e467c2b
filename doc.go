// Package taskgraph implements a heterogeneous task-graph executor: a
// runtime that accepts a directed graph of tasks (static work, dynamic
// subflows, condition branches, module subgraphs, and GPU flows) and
// executes it across a fixed pool of worker goroutines partitioned into
// domains (HOST, and optionally CUDA), using per-worker work-stealing
// deques with a global overflow queue per domain.
//
// The graph-construction API in this package (Graph, Node, Precede) is a
// minimal direct builder; the triangle-counting/CSR batch pipelines that
// consume a graph like this one, and any CUDA stream management, remain
// external collaborators and are not part of this module.
package taskgraph

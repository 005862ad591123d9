// Package batch implements Component C: grouping record requests by
// owning node and building each node's offset-vector sub-batch.
package batch

import (
	"fmt"
	"sync"

	"dkvbatch/internal/partition"
)

// stackThreshold mirrors as_batch_*_execute's stack-vs-heap offset
// vector split. Go slices have no stack/heap distinction the language
// exposes, so the Go-idiomatic translation (SPEC_FULL.md, Component C)
// is a sync.Pool of offset slices reused only above the threshold,
// avoiding repeated large-slice allocation on big batches without
// pretending to control stack placement.
const stackThreshold = 5000

var offsetPool = sync.Pool{
	New: func() any { return make([]uint32, 0, 64) },
}

// Resolver is the subset of partition.Resolver the planner depends on.
type Resolver interface {
	Resolve(namespace string, digest [20]byte, replica, replicaSC partition.ReplicaPolicy, master, masterSC bool, isRetry bool) (partition.NodeRef, error)
}

// Item is one record request's routing key as seen by the planner.
type Item struct {
	Index     uint32
	Namespace string
	Digest    [20]byte
}

// NodeAssignment groups the batch indices routed to one node. Indices
// preserve input order (spec.md §3) to maximize the codec's repeat
// compression.
type NodeAssignment struct {
	Node    partition.NodeRef
	Offsets []uint32
}

// Plan is the output of a planning pass: disposable, never mutated.
type Plan struct {
	Assignments []NodeAssignment
	Replica     partition.ReplicaPolicy
	ReplicaSC   partition.ReplicaPolicy
}

// ErrClusterEmpty is the error value for an empty cluster (spec.md
// §4.C degenerate case). Build itself never returns it: a zero
// NodeCountHint means the node count is unknown, not zero.
type ErrClusterEmpty struct{}

func (ErrClusterEmpty) Error() string { return "batch: cluster is empty" }

// PlanOptions bundles the per-plan routing inputs.
type PlanOptions struct {
	Replica   partition.ReplicaPolicy
	ReplicaSC partition.ReplicaPolicy
	Master    bool
	MasterSC  bool
	IsRetry   bool
	// NodeCountHint seeds the offset-vector capacity heuristic; zero
	// means "unknown", in which case the planner sizes conservatively.
	NodeCountHint int
}

// Build implements the planner algorithm from spec.md §4.C: resolve
// each item, find-or-insert its NodeAssignment, and append its batch
// index. Empty input returns an empty, non-nil plan (the "success
// callback carrying zero records" degenerate case); the cluster-empty
// case is the caller's responsibility to check before calling Build
// (NodeCountHint only sizes the offset vectors), mirroring as_batch_records_execute's node-count guard.
func Build(items []Item, resolver Resolver, opts PlanOptions) (*Plan, error) {
	plan := &Plan{Replica: opts.Replica, ReplicaSC: opts.ReplicaSC}
	if len(items) == 0 {
		return plan, nil
	}

	capacity := capacityHeuristic(len(items), opts.NodeCountHint)
	useHeapAlways := len(items) > stackThreshold

	index := make(map[string]int, opts.NodeCountHint)

	for _, item := range items {
		node, err := resolver.Resolve(item.Namespace, item.Digest, opts.Replica, opts.ReplicaSC, opts.Master, opts.MasterSC, opts.IsRetry)
		if err != nil {
			releaseAssignments(plan.Assignments, useHeapAlways)
			return nil, fmt.Errorf("batch: resolve index %d: %w", item.Index, err)
		}

		i, ok := index[node.ID]
		if !ok {
			var offsets []uint32
			if useHeapAlways {
				offsets = offsetPool.Get().([]uint32)[:0]
			} else {
				offsets = make([]uint32, 0, capacity)
			}
			plan.Assignments = append(plan.Assignments, NodeAssignment{Node: node, Offsets: offsets})
			i = len(plan.Assignments) - 1
			index[node.ID] = i
		}
		plan.Assignments[i].Offsets = append(plan.Assignments[i].Offsets, item.Index)
	}

	return plan, nil
}

// capacityHeuristic implements spec.md §4.C: ceil(n_keys/n_nodes)*1.25,
// floor 10.
func capacityHeuristic(nKeys, nNodes int) int {
	if nNodes <= 0 {
		nNodes = 1
	}
	base := (nKeys + nNodes - 1) / nNodes
	capacity := base + base/4
	if capacity < 10 {
		capacity = 10
	}
	return capacity
}

// Release returns a plan's pooled offset slices, mirroring
// as_batch_release_nodes' per-assignment teardown. Callers on the
// sync path must call this on every exit path once the assignment's
// offsets are no longer needed (the Ownership paragraph in spec.md §3).
func (p *Plan) Release() {
	if p == nil {
		return
	}
	releaseAssignments(p.Assignments, true)
}

func releaseAssignments(assignments []NodeAssignment, toPool bool) {
	if !toPool {
		return
	}
	for _, a := range assignments {
		if cap(a.Offsets) > 0 {
			offsetPool.Put(a.Offsets[:0]) //nolint:staticcheck // pool slot, not leaked
		}
	}
}

package dkvbatch

import (
	"fmt"
	"sync"

	"dkvbatch/internal/partition"
	"dkvbatch/internal/pipe"
)

// NodeRef identifies a cluster node the resolver can route to.
type NodeRef = partition.NodeRef

// PartitionMap is the external collaborator that owns cluster topology
// and partition ownership (spec.md §1's "out of scope" list); callers
// outside this module implement it against this alias rather than
// reaching into an internal package.
type PartitionMap = partition.PartitionMap

// AddressResolver maps a NodeRef to a dialable "host:port" address.
// Cluster membership and address discovery are external collaborators
// (spec.md §1's "out of scope" list); this is the seam the core
// expects them to fill.
type AddressResolver func(node NodeRef) (string, error)

// NodeDialer provisions and caches one pipe.Pool per node, lazily on
// first use, grounded on the teacher's cluster.Client node-map pattern
// (internal/cluster/client.go) adapted from a Redis slot map to a
// pipelined connection pool per node.
type NodeDialer struct {
	mu         sync.Mutex
	pools      map[string]*pipe.Pool
	resolve    AddressResolver
	capacity   int
	queueDepth int
}

// NewNodeDialer creates a dialer that opens up to capacity pipelined
// connections per node, each pipelining up to queueDepth commands.
func NewNodeDialer(resolve AddressResolver, capacity, queueDepth int) *NodeDialer {
	return &NodeDialer{
		pools:      make(map[string]*pipe.Pool),
		resolve:    resolve,
		capacity:   capacity,
		queueDepth: queueDepth,
	}
}

// PoolFor returns the pipe.Pool for node, creating it on first use.
func (d *NodeDialer) PoolFor(node NodeRef) (*pipe.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[node.ID]; ok {
		return p, nil
	}
	addr, err := d.resolve(node)
	if err != nil {
		return nil, fmt.Errorf("dkvbatch: resolve address for node %s: %w", node.ID, err)
	}
	p := pipe.NewPool(addr, d.capacity, d.queueDepth)
	d.pools[node.ID] = p
	return p, nil
}

// Close closes every pool the dialer has opened.
func (d *NodeDialer) Close() error {
	d.mu.Lock()
	pools := d.pools
	d.pools = make(map[string]*pipe.Pool)
	d.mu.Unlock()
	for _, p := range pools {
		_ = p.Close()
	}
	return nil
}

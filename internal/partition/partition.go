// Package partition implements Component A: resolving a (namespace,
// digest) pair to the cluster node that owns it, under a replica
// policy and AP/SC consistency mode.
//
// Cluster membership and the partition map itself are external
// collaborators (spec.md §1, out of scope); this package only consumes
// the PartitionMap interface and applies the replica-selection and
// SC-downgrade rules on top of it.
package partition

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"dkvbatch/internal/obslog"
)

// ReplicaPolicy selects among the eligible owners of a partition.
type ReplicaPolicy int

const (
	ReplicaMaster ReplicaPolicy = iota
	ReplicaMasterProles
	ReplicaSequence
	ReplicaPreferRack
)

// ReadModeSC controls strong-consistency read routing.
type ReadModeSC int

const (
	ReadModeSCSession ReadModeSC = iota
	ReadModeSCLinearize
	ReadModeSCAllowReplica
	ReadModeSCAllowUnavailable
)

// NodeRef identifies a cluster node. Equality is by ID.
type NodeRef struct {
	ID   string
	Rack string
}

// ErrInvalidNode is returned when the partition map has no live owner
// satisfying the requested policy.
var ErrInvalidNode = errors.New("partition: invalid node")

// PartitionMap is the external collaborator that owns cluster topology
// and partition ownership. It is consulted, never mutated, by Resolver.
type PartitionMap interface {
	// Replicas returns the eligible owners of the partition holding
	// digest, in priority order (index 0 is the current master), along
	// with whether that partition is presently running under strong
	// consistency. ok is false if the namespace/partition is unknown.
	Replicas(namespace string, partitionID uint32) (replicas []NodeRef, scMode bool, ok bool)
}

// NumPartitions mirrors the fixed partition count convention used by
// range-sharded digest routing (low bits of the digest select the
// partition id).
const NumPartitions = 4096

// PartitionID derives the partition id from a 20-byte digest's low
// bits, matching as_partition_info_init's digest-derived routing.
func PartitionID(digest [20]byte) uint32 {
	// First 2 digest bytes, read little-endian, reduced modulo
	// NumPartitions.
	return (uint32(digest[1])<<8 | uint32(digest[0])) % NumPartitions
}

// Resolver implements resolve() from spec.md §4.A.
type Resolver struct {
	Map PartitionMap
}

func NewResolver(m PartitionMap) *Resolver {
	return &Resolver{Map: m}
}

// EffectiveReplicaSC computes the SC-mode replica policy per spec.md
// §4.A:
//   - SESSION -> always master
//   - LINEARIZE -> as given, except PREFER_RACK downgrades to SEQUENCE
//   - otherwise -> as given
func EffectiveReplicaSC(replica ReplicaPolicy, mode ReadModeSC) ReplicaPolicy {
	switch mode {
	case ReadModeSCSession:
		return ReplicaMaster
	case ReadModeSCLinearize:
		if replica == ReplicaPreferRack {
			return ReplicaSequence
		}
		return replica
	default:
		return replica
	}
}

// Resolve maps (namespace, digest) to an owning node.
//
// master and masterSC track the AP and SC "prefer master" flags
// independently (spec.md §9's dual replica-tracking design note); the
// caller decides how each flag changes between retries.
func (r *Resolver) Resolve(
	namespace string, digest [20]byte,
	replica ReplicaPolicy, replicaSC ReplicaPolicy,
	master, masterSC bool, isRetry bool,
) (NodeRef, error) {
	partitionID := PartitionID(digest)

	replicas, scMode, ok := r.Map.Replicas(namespace, partitionID)
	if !ok || len(replicas) == 0 {
		obslog.Warn("partition: no owner for %s:%d", namespace, partitionID)
		return NodeRef{}, fmt.Errorf("%w: %s:%d", ErrInvalidNode, namespace, partitionID)
	}

	effectiveReplica := replica
	effectiveMaster := master
	if scMode {
		effectiveReplica = replicaSC
		effectiveMaster = masterSC
	}

	node, ok := pickReplica(replicas, effectiveReplica, effectiveMaster, isRetry, partitionID)
	if !ok {
		return NodeRef{}, fmt.Errorf("%w: %s:%d", ErrInvalidNode, namespace, partitionID)
	}
	return node, nil
}

// pickReplica selects among the eligible replicas. MASTER honors the
// master-preferred flag directly and walks the replicas when it is
// false; MASTER_PROLES ignores the flag and always walks; SEQUENCE and
// PREFER_RACK use rendezvous hashing over the candidate set so that
// retries (isRetry=true) land on a deterministic-but-different node
// without needing a shared walk index (spec.md §3.2, supplemented).
func pickReplica(replicas []NodeRef, policy ReplicaPolicy, preferMaster, isRetry bool, partitionID uint32) (NodeRef, bool) {
	if len(replicas) == 0 {
		return NodeRef{}, false
	}

	switch policy {
	case ReplicaMaster:
		if preferMaster {
			return replicas[0], true
		}
		return replicaWalk(replicas, partitionID, isRetry)

	case ReplicaMasterProles:
		return replicaWalk(replicas, partitionID, isRetry)

	case ReplicaSequence, ReplicaPreferRack:
		return rendezvousPick(replicas, partitionID, isRetry)

	default:
		return replicas[0], true
	}
}

// replicaWalk returns the master (index 0) on a first attempt; on a
// retry it returns a non-master replica chosen by partition id, the
// same one on every retry. Used for MASTER/MASTER_PROLES where rack affinity and
// rendezvous scoring don't apply.
func replicaWalk(replicas []NodeRef, partitionID uint32, isRetry bool) (NodeRef, bool) {
	idx := 0
	if isRetry && len(replicas) > 1 {
		idx = int((partitionID+1)%uint32(len(replicas)-1)) + 1
	}
	if idx >= len(replicas) {
		idx = 0
	}
	return replicas[idx], true
}

func hashNode(s string) uint64 {
	return xxhash.Sum64String(s)
}

// rendezvousPick scores replicas via HRW hashing keyed on the
// partition id, so a given partition prefers the same replica across
// calls but a retry (isRetry) excludes the top choice to guarantee a
// different node is returned, satisfying spec.md §4.A's "resolver MUST
// be allowed to return a different node from the first pass" rule.
func rendezvousPick(replicas []NodeRef, partitionID uint32, isRetry bool) (NodeRef, bool) {
	ids := make([]string, len(replicas))
	byID := make(map[string]NodeRef, len(replicas))
	for i, n := range replicas {
		ids[i] = n.ID
		byID[n.ID] = n
	}

	rv := rendezvous.New(ids, hashNode)
	key := fmt.Sprintf("p%d", partitionID)
	first := rv.Get(key)

	if !isRetry || len(ids) == 1 {
		return byID[first], true
	}

	rv.Remove(first)
	second := rv.Get(key)
	if second == "" {
		return byID[first], true
	}
	return byID[second], true
}

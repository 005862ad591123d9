package exec

import "dkvbatch/internal/partition"

// ShouldSplitRetry reports whether a failed command's offsets should
// be re-planned across freshly resolved replicas rather than simply
// replayed against the same node, grounded on as_batch_retry's
// distinction between a node-local failure (split) and a transient
// socket failure where the same node is still worth retrying directly.
func ShouldSplitRetry(kind StatusKind) bool {
	switch kind {
	case StatusTimeout, StatusNoMoreConnections, StatusInvalidNode:
		return true
	default:
		return false
	}
}

// DeclineIfSameNode implements testable property 4: a split retry
// whose replanned node list maps every offset back onto the node that
// just failed makes no progress and must be declined so the caller
// falls through to ordinary same-node replay instead of looping.
func DeclineIfSameNode(replanned []partition.NodeRef, original partition.NodeRef) bool {
	if len(replanned) == 0 {
		return false
	}
	for _, n := range replanned {
		if n.ID != original.ID {
			return false
		}
	}
	return true
}

// FlipMasterSC decides the next value of an SC master-preference flag
// on retry, grounded on as_batch_retry/as_batch_retry_async: the flag
// normally flips each retry so a different replica is tried, but a
// timeout under ReadModeSCLinearize must not flip, since linearized
// reads are only safe against the node already known to hold the
// session's linearization point.
func FlipMasterSC(masterSC bool, isTimeout bool, readModeSC partition.ReadModeSC) bool {
	if isTimeout && readModeSC == partition.ReadModeSCLinearize {
		return masterSC
	}
	return !masterSC
}

// FlipMasterAP decides the next value of the AP master-preference flag
// on retry. AP has no linearization constraint, so it always flips,
// diverging the replica pick from the prior attempt (spec.md §9).
func FlipMasterAP(masterAP bool) bool {
	return !masterAP
}

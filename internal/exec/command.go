package exec

import (
	"time"

	"dkvbatch/internal/partition"
)

// Command carries the per-node policy knobs needed to replay a
// sub-batch on retry (spec.md §4.D "Per-command state"). AP and SC
// master-preference flags are tracked independently so SC retries can
// alternate replicas without disturbing AP routing (spec.md §9).
type Command struct {
	Node    partition.NodeRef
	Offsets []uint32
	Buf     []byte

	SocketTimeout time.Duration
	Deadline      time.Time
	MaxRetries    int
	Iteration     int

	Replica     partition.ReplicaPolicy
	ReplicaSC   partition.ReplicaPolicy
	MasterAP    bool
	MasterSC    bool
	Deserialize bool
}

// Expired reports whether the command's total deadline has passed.
func (c *Command) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}

// bufferRoundBoundary matches as_batch_read_execute_async's 8KiB
// rounding of the command buffer (header + body + auth headroom) so
// the socket read path can reuse the allocation (SPEC_FULL.md §4).
const bufferRoundBoundary = 8192

// authHeadroom approximates AS_AUTHENTICATION_MAX_SIZE: extra room
// reserved ahead of the response so a re-authentication round trip
// never forces a reallocation mid-command.
const authHeadroom = 256

// RoundCommandBuffer rounds payloadLen (the encoded request size) up
// to the next 8 KiB multiple after reserving authHeadroom, returning
// the allocation size a command buffer should use.
func RoundCommandBuffer(payloadLen int) int {
	size := payloadLen + authHeadroom
	return (size + bufferRoundBoundary - 1) &^ (bufferRoundBoundary - 1)
}

package dkvbatch

import (
	"time"

	"dkvbatch/internal/partition"
	"dkvbatch/internal/wire"
)

// ReplicaPolicy, ReadModeAP, and ReadModeSC re-export the partition
// package's routing enums so callers never import internal packages
// directly.
type (
	ReplicaPolicy = partition.ReplicaPolicy
	ReadModeAP    = wire.ReadModeAP
	ReadModeSC    = partition.ReadModeSC
)

const (
	ReplicaMaster       = partition.ReplicaMaster
	ReplicaMasterProles = partition.ReplicaMasterProles
	ReplicaSequence     = partition.ReplicaSequence
	ReplicaPreferRack   = partition.ReplicaPreferRack
)

const (
	ReadModeAPOne = wire.ReadModeAPOne
	ReadModeAPAll = wire.ReadModeAPAll
)

const (
	ReadModeSCSession          = partition.ReadModeSCSession
	ReadModeSCLinearize        = partition.ReadModeSCLinearize
	ReadModeSCAllowReplica     = partition.ReadModeSCAllowReplica
	ReadModeSCAllowUnavailable = partition.ReadModeSCAllowUnavailable
)

// BinSelection mirrors wire.BinSelection: all bins, no bin data, or a
// named subset. It's handed around by pointer so the codec's
// "repeat previous" compression can compare identity across requests
// (spec.md §4.B).
type BinSelection = wire.BinSelection

// AllBins selects every bin on the record.
func AllBins() *BinSelection { return &BinSelection{AllBins: true} }

// NoBinData selects metadata only (generation/ttl), no bin values.
func NoBinData() *BinSelection { return &BinSelection{NoBinData: true} }

// NamedBins selects exactly the bins listed.
func NamedBins(names ...string) *BinSelection { return &BinSelection{Names: names} }

// Policy bundles the knobs spec.md §6 lists.
type Policy struct {
	SocketTimeout time.Duration
	TotalTimeout  time.Duration
	MaxRetries    int

	// Replica selects among primary and replica partition owners for
	// AP reads. SC reads derive their effective replica policy from
	// this same field via partition.EffectiveReplicaSC (spec.md §4.A)
	// rather than exposing a second, independently settable knob.
	Replica    ReplicaPolicy
	ReadModeAP ReadModeAP
	ReadModeSC ReadModeSC

	Concurrent  bool
	AllowInline bool
	SendSetName bool
	Deserialize bool
	PredExp     []byte

	// RetryQPS bounds how often a single node may be re-dispatched to
	// on retry (0 = unlimited). RetryBurst sets the token bucket's
	// burst size; ignored when RetryQPS is 0.
	RetryQPS   float64
	RetryBurst int
}

// NewPolicy returns the zero-config defaults: SEQUENCE replica
// selection, session-consistency SC reads, up to two retries,
// sequential execution.
func NewPolicy() *Policy {
	return &Policy{
		SocketTimeout: 30 * time.Second,
		TotalTimeout:  1000 * time.Second,
		MaxRetries:    2,
		Replica:       ReplicaSequence,
		ReadModeAP:    ReadModeAPOne,
		ReadModeSC:    ReadModeSCSession,
		Concurrent:    false,
		Deserialize:   true,
		RetryBurst:    1,
	}
}

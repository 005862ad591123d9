package wire

// BinSelection describes which bins a request wants back. It is kept
// as a pointer type so the repeat-previous compression in Encode can
// compare selections by reference, not value, per spec.md §4.B: "the
// encoder MUST emit repeat_flag=1 only when bin-selection identity
// matches by reference ... to preserve safe aliasing across requests."
type BinSelection struct {
	AllBins   bool
	NoBinData bool
	Names     []string
}

// BatchEntry is one record's worth of input to Encode: its batch
// index, routing key digest, and bin selection.
type BatchEntry struct {
	Index     uint32
	Namespace string
	Set       string
	Digest    [20]byte
	Bins      *BinSelection
}

// RequestOptions carries the policy knobs the codec needs to encode a
// header (spec.md §6's policy table, narrowed to the wire-relevant
// subset).
type RequestOptions struct {
	TotalTimeoutMillis uint32
	ReadModeAP         ReadModeAP
	ReadModeSC         ReadModeSC
	SendSetName        bool
	AllowInline        bool
	PredExp            []byte // pre-encoded predicate expression field (length, type and body), or nil
}

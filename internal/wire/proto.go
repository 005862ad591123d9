// Package wire implements Component B: serializing a batch-index
// request message and parsing the interleaved per-record response
// frames back into caller-supplied slots.
//
// Byte order is big-endian throughout, matching spec.md §6's wire
// layout section.
package wire

// Proto frame header: 1-byte version, 1-byte message type, 48-bit
// big-endian payload length.
const protoHeaderSize = 8

// Message header: the as_msg-shaped 22-byte header shared by requests
// and responses, grounded on spec.md §4.B. transaction_ttl is the
// field overloaded for total-timeout on the way out and batch index on
// the way back.
const msgHeaderSize = 22

// info1
const (
	info1Read        byte = 1 << 0
	info1GetAll      byte = 1 << 1
	info1BatchIndex  byte = 1 << 3
	info1GetNoBins   byte = 1 << 5
	info1ReadModeAP1 byte = 1 << 7 // READ_MODE_AP_ALL
)

// info3
const (
	info3Last        byte = 1 << 0
	info3SCReadType  byte = 1 << 6
	info3SCReadRelax byte = 1 << 7
)

// Field tags.
const (
	fieldNamespace         byte = 0
	fieldSetName           byte = 1
	fieldPredExp           byte = 12
	fieldBatchIndex        byte = 21
	fieldBatchIndexWithSet byte = 22
)

const fieldHeaderSize = 5 // 4-byte length + 1-byte type

// ResultCode mirrors the server's per-record / per-batch result code.
type ResultCode uint8

const (
	ResultOK          ResultCode = 0
	ResultNotFound    ResultCode = 2
	ResultFilteredOut ResultCode = 27
	ResultParameter   ResultCode = 4
	ResultClient      ResultCode = 60 // client-synthesized / CLIENT errors
)

// IsStopBatch reports whether rc terminates parsing of the whole batch
// stream (spec.md §4.B parsing rule 1): anything other than OK,
// NOT_FOUND or FILTERED_OUT.
func IsStopBatch(rc ResultCode) bool {
	return rc != ResultOK && rc != ResultNotFound && rc != ResultFilteredOut
}

// ReadModeAP selects the AP read-consistency variant.
type ReadModeAP int

const (
	ReadModeAPOne ReadModeAP = iota
	ReadModeAPAll
)

// ReadModeSC mirrors partition.ReadModeSC's wire encoding (info3 bits),
// kept as a small local copy so the codec doesn't need to import the
// partition package for two bits of header framing.
type ReadModeSC int

const (
	ReadModeSCSession ReadModeSC = iota
	ReadModeSCLinearize
	ReadModeSCAllowReplica
	ReadModeSCAllowUnavailable
)

func readModeSCBits(mode ReadModeSC) byte {
	switch mode {
	case ReadModeSCLinearize:
		return info3SCReadType
	case ReadModeSCAllowReplica:
		return info3SCReadRelax
	case ReadModeSCAllowUnavailable:
		return info3SCReadType | info3SCReadRelax
	default: // SESSION
		return 0
	}
}

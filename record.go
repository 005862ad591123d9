package dkvbatch

import "dkvbatch/internal/wire"

// Record holds a successfully parsed response: generation, ttl, and
// the bin-name → value map (spec.md §3).
type Record = wire.Record

// ResultCode is the per-record server result (spec.md §4.B): OK,
// NOT_FOUND, FILTERED_OUT, or a stop-batch code. A result code other
// than OK/NOT_FOUND/FILTERED_OUT never reaches a slot directly — it
// surfaces as the operation's returned error instead (spec.md §7).
type ResultCode = wire.ResultCode

const (
	ResultOK          = wire.ResultOK
	ResultNotFound    = wire.ResultNotFound
	ResultFilteredOut = wire.ResultFilteredOut
)

// RecordRequest is one entry in a batch_read call: a key, the bins to
// fetch, and the result slot the core fills in by batch index.
// Requests are addressed by their position in the slice passed to
// BatchRead — their batch index — never by any other identity.
type RecordRequest struct {
	Key  Key
	Bins *BinSelection

	// Delivered is false until a response (or a client-synthesized
	// failure) has been written to this slot.
	Delivered  bool
	ResultCode ResultCode
	Record     *Record
}

// BatchReadDestroy releases per-record resources. Go's garbage
// collector reclaims the Record/Bins maps on its own; this exists so
// call sites that mirror the teacher's explicit-lifetime style (and
// external, non-Go callers via cgo) have a single release point to
// call, matching spec.md §6's batch_read_destroy operation.
func BatchReadDestroy(records []*RecordRequest) {
	resetSlots(records)
}

func resetSlots(records []*RecordRequest) {
	for _, r := range records {
		r.Delivered = false
		r.ResultCode = ResultOK
		r.Record = nil
	}
}

package wire

import "fmt"

// Record is the parsed payload of one successful batch response entry.
type Record struct {
	Generation uint32
	TTL        uint32
	Bins       map[string]BinValue
}

// BinValue is one bin's value. CompressionTag follows the RDB-inspired
// compressed-blob shape from SPEC_FULL.md §3.1: a one-byte tag ahead of
// the payload. Raw holds the tagged bytes as received; Decode()
// materializes them per the tag.
type BinValue struct {
	CompressionTag CompressionTag
	Raw            []byte
}

// Materialize decompresses every bin on r in place per its compression
// tag, the deserialize=true path from spec.md §4.B.5 ("the deserialize
// policy toggles whether complex bin values are eagerly materialized
// or left as opaque blobs"). A bin that fails to decompress aborts the
// whole call so the caller doesn't see partially materialized records.
func (r *Record) Materialize() error {
	for name, v := range r.Bins {
		raw, err := v.Decode(true)
		if err != nil {
			return fmt.Errorf("wire: materialize bin %q: %w", name, err)
		}
		r.Bins[name] = BinValue{CompressionTag: CompressNone, Raw: raw}
	}
	return nil
}

// ParticleType roughly mirrors the server's bin value type tag.
type ParticleType byte

const (
	ParticleNull ParticleType = iota
	ParticleInteger
	ParticleString
	ParticleBlob
)

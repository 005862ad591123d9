package wire

import "encoding/binary"

// Encode serializes a batch-index request message: proto frame header,
// 22-byte message header, optional predicate-expression field, and the
// BATCH_INDEX(_WITH_SET) field carrying one entry per record, grounded
// on as_batch_index_records_write.
//
// Entries must already be in the order they should appear on the
// wire; Encode applies the repeat-previous compression itself by
// comparing each entry's (namespace, set, bin-selection pointer)
// against the previous entry.
func Encode(entries []BatchEntry, opts RequestOptions) []byte {
	return EncodeInto(make([]byte, 0, EstimateSize(entries, opts)), entries, opts)
}

// EncodeInto is Encode with the caller supplying the destination
// buffer's backing array (only its length is reset to zero), so a
// caller that wants a specific allocation size — the async path's
// 8 KiB rounding, SPEC_FULL.md §4 — can provide it directly instead of
// Encode's tight EstimateSize allocation.
func EncodeInto(dst []byte, entries []BatchEntry, opts RequestOptions) []byte {
	buf := dst[:0]

	readAttr := info1Read | info1BatchIndex
	if opts.ReadModeAP == ReadModeAPAll {
		readAttr |= info1ReadModeAP1
	}

	buf = appendProtoPlaceholder(buf)
	buf = appendMsgHeader(buf, readAttr, opts)

	if opts.PredExp != nil {
		buf = append(buf, opts.PredExp...)
	}

	fieldLenAt := len(buf)
	batchFieldType := fieldBatchIndex
	if opts.SendSetName {
		batchFieldType = fieldBatchIndexWithSet
	}
	buf = binary.BigEndian.AppendUint32(buf, 0) // field length placeholder
	buf = append(buf, batchFieldType)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	if opts.AllowInline {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var prev *BatchEntry
	for i := range entries {
		e := &entries[i]
		buf = binary.BigEndian.AppendUint32(buf, e.Index)
		buf = append(buf, e.Digest[:]...)

		if prev != nil && prev.Namespace == e.Namespace &&
			(!opts.SendSetName || prev.Set == e.Set) &&
			prev.Bins == e.Bins {
			buf = append(buf, 1) // repeat
			continue
		}

		buf = append(buf, 0) // do not repeat

		fieldCount := uint16(1)
		if opts.SendSetName {
			fieldCount = 2
		}

		bins := e.Bins
		entryReadAttr := readAttr
		var nBins uint16
		switch {
		case bins != nil && len(bins.Names) > 0:
			nBins = uint16(len(bins.Names))
		case bins != nil && bins.NoBinData:
			entryReadAttr |= info1GetNoBins
		default:
			entryReadAttr |= info1GetAll
		}

		buf = append(buf, entryReadAttr)
		buf = binary.BigEndian.AppendUint16(buf, fieldCount)
		buf = binary.BigEndian.AppendUint16(buf, nBins)
		buf = appendStringField(buf, fieldNamespace, e.Namespace)
		if opts.SendSetName {
			buf = appendStringField(buf, fieldSetName, e.Set)
		}
		if nBins > 0 {
			for _, name := range bins.Names {
				buf = appendBinNameOp(buf, name)
			}
		}
		prev = e
	}

	fieldLen := uint32(len(buf) - fieldLenAt - 4)
	binary.BigEndian.PutUint32(buf[fieldLenAt:], fieldLen)

	return finalizeLength(buf)
}

// EstimateSize returns an allocation estimate for an Encode call's
// output: the fixed headers plus 57 bytes per entry. It is not an upper
// bound; entries with long namespace/set names or named bins need more,
// and EncodeInto's appends then grow the buffer. It is used both by
// Encode's default allocation and by callers (such as the async path's 8 KiB rounding) sizing their
// own buffer ahead of EncodeInto.
func EstimateSize(entries []BatchEntry, opts RequestOptions) int {
	size := protoHeaderSize + msgHeaderSize + fieldHeaderSize + 4 + 1 + len(opts.PredExp)
	for range entries {
		size += 24 + 1 + 32
	}
	return size
}

func appendStringField(buf []byte, tag byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)+1))
	buf = append(buf, tag)
	buf = append(buf, s...)
	return buf
}

// appendBinNameOp writes one bin-name operation: 4-byte size, 1-byte
// op type, 1-byte particle type, 1-byte name length, name bytes.
func appendBinNameOp(buf []byte, name string) []byte {
	opLen := uint32(1 + 1 + 1 + len(name))
	buf = binary.BigEndian.AppendUint32(buf, opLen)
	buf = append(buf, byte(1)) // op: READ
	buf = append(buf, byte(0)) // particle type: unset for reads
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	return buf
}

func appendProtoPlaceholder(buf []byte) []byte {
	return append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
}

// appendMsgHeader writes the fixed 22-byte message header.
func appendMsgHeader(buf []byte, readAttr byte, opts RequestOptions) []byte {
	fieldCount := uint16(1)
	if opts.PredExp != nil {
		fieldCount = 2
	}

	h := make([]byte, msgHeaderSize)
	h[0] = msgHeaderSize
	h[1] = readAttr
	h[2] = 0 // info2
	h[3] = readModeSCBits(opts.ReadModeSC)
	h[4] = 0 // unused
	h[5] = 0 // result_code, unused on requests
	binary.BigEndian.PutUint32(h[6:10], 0)                         // generation, unused on requests
	binary.BigEndian.PutUint32(h[10:14], 0)                        // record_ttl, unused on requests
	binary.BigEndian.PutUint32(h[14:18], opts.TotalTimeoutMillis)  // transaction_ttl == total timeout
	binary.BigEndian.PutUint16(h[18:20], fieldCount)
	binary.BigEndian.PutUint16(h[20:22], 0) // n_ops, batch command has none at top level

	return append(buf, h...)
}

// finalizeLength back-patches the 8-byte proto header (version, type,
// 48-bit big-endian length) now that the full message size is known.
func finalizeLength(buf []byte) []byte {
	size := uint64(len(buf) - protoHeaderSize)
	buf[0] = 2 // proto version
	buf[1] = 3 // message type
	buf[2] = byte(size >> 40)
	buf[3] = byte(size >> 32)
	buf[4] = byte(size >> 24)
	buf[5] = byte(size >> 16)
	buf[6] = byte(size >> 8)
	buf[7] = byte(size)
	return buf
}

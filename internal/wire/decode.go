package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrProtocolViolation is returned when a response carries a batch
// index outside the batch's bounds (spec.md §4.B rule 4).
var ErrProtocolViolation = errors.New("wire: protocol violation")

// Sink receives one parsed record message. index is the batch index
// the response carries (transaction_ttl overload); rc is its result
// code; rec is non-nil only when rc == ResultOK.
type Sink func(index uint32, rc ResultCode, rec *Record) error

// ReadFrame reads one proto-framed message into scratch, growing it if
// needed, and returns the payload slice (aliasing scratch). Per
// spec.md §4.B's buffer discipline, the returned slice is only valid
// until the next ReadFrame call on the same scratch — callers (or
// Sink) must copy any bytes they intend to keep, such as bin values
// with copy ownership.
func ReadFrame(r io.Reader, scratch *[]byte) ([]byte, error) {
	var hdr [protoHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := uint64(hdr[2])<<40 | uint64(hdr[3])<<32 | uint64(hdr[4])<<24 |
		uint64(hdr[5])<<16 | uint64(hdr[6])<<8 | uint64(hdr[7])
	if size == 0 {
		return (*scratch)[:0], nil
	}
	if uint64(cap(*scratch)) < size {
		*scratch = make([]byte, size)
	}
	buf := (*scratch)[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type recordHeader struct {
	resultCode ResultCode
	generation uint32
	ttl        uint32
	batchIndex uint32
	nFields    uint16
	nOps       uint16
	last       bool
}

func parseMsgHeader(p []byte) (recordHeader, error) {
	if len(p) < msgHeaderSize {
		return recordHeader{}, fmt.Errorf("%w: short message header", ErrProtocolViolation)
	}
	return recordHeader{
		resultCode: ResultCode(p[5]),
		generation: binary.BigEndian.Uint32(p[6:10]),
		ttl:        binary.BigEndian.Uint32(p[10:14]),
		batchIndex: binary.BigEndian.Uint32(p[14:18]),
		nFields:    binary.BigEndian.Uint16(p[18:20]),
		nOps:       binary.BigEndian.Uint16(p[20:22]),
		last:       p[3]&info3Last != 0,
	}, nil
}

func skipFields(p []byte, n uint16) ([]byte, error) {
	for i := uint16(0); i < n; i++ {
		if len(p) < 4 {
			return nil, fmt.Errorf("%w: truncated field", ErrProtocolViolation)
		}
		l := binary.BigEndian.Uint32(p)
		p = p[4:]
		if uint32(len(p)) < l {
			return nil, fmt.Errorf("%w: truncated field body", ErrProtocolViolation)
		}
		p = p[l:]
	}
	return p, nil
}

// parseOps reads n_ops bin operations into a fresh map. Bin values
// take copy ownership immediately (they're appended via append/copy
// semantics from the caller-owned slice), satisfying the codec's
// "copy before the buffer is reused" rule.
func parseOps(p []byte, n uint16) ([]byte, map[string]BinValue, error) {
	if n == 0 {
		return p, nil, nil
	}
	bins := make(map[string]BinValue, n)
	for i := uint16(0); i < n; i++ {
		if len(p) < 4 {
			return nil, nil, fmt.Errorf("%w: truncated op", ErrProtocolViolation)
		}
		opSize := binary.BigEndian.Uint32(p)
		p = p[4:]
		if uint32(len(p)) < opSize {
			return nil, nil, fmt.Errorf("%w: truncated op body", ErrProtocolViolation)
		}
		op := p[:opSize]
		p = p[opSize:]

		if len(op) < 3 {
			return nil, nil, fmt.Errorf("%w: short op header", ErrProtocolViolation)
		}
		nameLen := int(op[2])
		op = op[3:]
		if len(op) < nameLen+1 {
			return nil, nil, fmt.Errorf("%w: short op name/value", ErrProtocolViolation)
		}
		name := string(op[:nameLen])
		op = op[nameLen:]
		tag := CompressionTag(op[0])
		value := append([]byte(nil), op[1:]...) // copy: scratch buffer will be reused
		bins[name] = BinValue{CompressionTag: tag, Raw: value}
	}
	return p, bins, nil
}

// ParseMessage walks one or more record messages packed into buf,
// invoking sink for each, until a LAST marker, a stop-batch code, or
// buf is exhausted. It returns done=true once a LAST marker or
// stop-batch code has been observed, grounded on as_batch_parse_records
// / as_batch_async_parse_records.
func ParseMessage(buf []byte, batchSize uint32, sink Sink) (done bool, err error) {
	p := buf
	for len(p) > 0 {
		h, err := parseMsgHeader(p)
		if err != nil {
			return false, err
		}
		p = p[msgHeaderSize:]

		if IsStopBatch(h.resultCode) {
			return true, fmt.Errorf("wire: stop-batch result code %d", h.resultCode)
		}
		if h.last {
			return true, nil
		}

		if h.batchIndex >= batchSize {
			return true, fmt.Errorf("%w: batch index %d >= batch size %d", ErrProtocolViolation, h.batchIndex, batchSize)
		}

		p, err = skipFields(p, h.nFields)
		if err != nil {
			return false, err
		}

		var rec *Record
		if h.resultCode == ResultOK {
			var bins map[string]BinValue
			p, bins, err = parseOps(p, h.nOps)
			if err != nil {
				return false, err
			}
			rec = &Record{Generation: h.generation, TTL: h.ttl, Bins: bins}
		} else {
			// NOT_FOUND / FILTERED_OUT still advance over n_ops, which
			// the server sends as zero for non-OK records in practice,
			// but skip defensively to stay in sync.
			p, _, err = parseOps(p, h.nOps)
			if err != nil {
				return false, err
			}
		}

		if sinkErr := sink(h.batchIndex, h.resultCode, rec); sinkErr != nil {
			return false, sinkErr
		}
	}
	return false, nil
}

// SkipDrain walks record messages without parsing bins or writing into
// any slot, only looking for the LAST marker — grounded on
// as_batch_async_skip_records. Nothing in this module calls it: the
// async path parses every response with ParseMessage, whether or not
// the async executor is still valid.
func SkipDrain(buf []byte) (done bool, err error) {
	p := buf
	for len(p) > 0 {
		h, err := parseMsgHeader(p)
		if err != nil {
			return false, err
		}
		p = p[msgHeaderSize:]

		if IsStopBatch(h.resultCode) {
			return true, nil
		}
		if h.last {
			return true, nil
		}

		p, err = skipFields(p, h.nFields)
		if err != nil {
			return false, err
		}
		p, _, err = parseOps(p, h.nOps)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

package wire

import (
	"encoding/binary"
	"fmt"
)

// StubRecord describes one record message a fake node should answer
// with. It exists so a test harness or demo driver can synthesize a
// realistic batch response without duplicating this package's framing
// knowledge.
type StubRecord struct {
	Index      uint32
	ResultCode ResultCode
	Generation uint32
	TTL        uint32
	Last       bool
	Bins       map[string]string
}

// EncodeStubResponse builds one complete proto-framed response message
// from recs, ready to write directly to a connection that a
// Connection's reader will consume with ReadFrame + ParseMessage. Bin
// values are written uncompressed (CompressNone).
func EncodeStubResponse(recs []StubRecord) []byte {
	buf := appendProtoPlaceholder(nil)
	for _, r := range recs {
		h := make([]byte, msgHeaderSize)
		h[0] = msgHeaderSize
		if r.Last {
			h[3] = info3Last
		}
		h[5] = byte(r.ResultCode)
		binary.BigEndian.PutUint32(h[6:10], r.Generation)
		binary.BigEndian.PutUint32(h[10:14], r.TTL)
		binary.BigEndian.PutUint32(h[14:18], r.Index)
		binary.BigEndian.PutUint16(h[18:20], 0)
		binary.BigEndian.PutUint16(h[20:22], uint16(len(r.Bins)))
		buf = append(buf, h...)

		for name, val := range r.Bins {
			opSize := uint32(1 + 1 + 1 + len(name) + 1 + len(val))
			buf = binary.BigEndian.AppendUint32(buf, opSize)
			buf = append(buf, 1, 0, byte(len(name)))
			buf = append(buf, name...)
			buf = append(buf, byte(CompressNone))
			buf = append(buf, val...)
		}
	}
	return finalizeLength(buf)
}

// DecodeRequestIndices walks a request frame produced by Encode (as
// delivered to a fake node via ReadFrame, i.e. with the proto header
// already stripped) and returns the batch indices carried by its
// BATCH_INDEX(_WITH_SET) field, in wire order. It exists purely as
// test-harness support, mirroring StubRecord/EncodeStubResponse: a
// fake node needs to know which batch indices a request asked for so
// it can answer each one without reimplementing the full decoder the
// real server side would have.
func DecodeRequestIndices(frame []byte) ([]uint32, error) {
	if len(frame) < msgHeaderSize {
		return nil, fmt.Errorf("wire: short request header")
	}
	fieldCount := binary.BigEndian.Uint16(frame[18:20])
	p := frame[msgHeaderSize:]

	for i := uint16(0); i < fieldCount; i++ {
		if len(p) < fieldHeaderSize {
			return nil, fmt.Errorf("wire: truncated field header")
		}
		flen := binary.BigEndian.Uint32(p)
		tag := p[4]
		body := p[fieldHeaderSize : fieldHeaderSize+int(flen)-1]
		p = p[fieldHeaderSize+int(flen)-1:]

		if tag != fieldBatchIndex && tag != fieldBatchIndexWithSet {
			continue
		}
		return decodeBatchIndexField(body)
	}
	return nil, fmt.Errorf("wire: no batch-index field found")
}

func decodeBatchIndexField(body []byte) ([]uint32, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("wire: short batch-index field")
	}
	count := binary.BigEndian.Uint32(body[0:4])
	p := body[5:] // skip count + allow_inline

	indices := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(p) < 4+20+1 {
			return nil, fmt.Errorf("wire: truncated batch-index entry")
		}
		idx := binary.BigEndian.Uint32(p)
		p = p[4+20:]
		repeat := p[0]
		p = p[1:]
		indices = append(indices, idx)
		if repeat != 0 {
			continue
		}

		if len(p) < 1+2+2 {
			return nil, fmt.Errorf("wire: truncated entry header")
		}
		p = p[1:] // read_attr
		fieldCount := binary.BigEndian.Uint16(p)
		p = p[2:]
		nBins := binary.BigEndian.Uint16(p)
		p = p[2:]

		for f := uint16(0); f < fieldCount; f++ {
			if len(p) < 4 {
				return nil, fmt.Errorf("wire: truncated entry field")
			}
			flen := binary.BigEndian.Uint32(p)
			p = p[4+int(flen):]
		}
		for b := uint16(0); b < nBins; b++ {
			if len(p) < 4 {
				return nil, fmt.Errorf("wire: truncated bin op")
			}
			opLen := binary.BigEndian.Uint32(p)
			p = p[4+int(opLen):]
		}
	}
	return indices, nil
}

package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func digestOf(b byte) [20]byte {
	var d [20]byte
	d[0] = b
	return d
}

func TestEncodeRepeatCompression(t *testing.T) {
	allBins := &BinSelection{AllBins: true}
	named := &BinSelection{Names: []string{"a", "b"}}

	entries := []BatchEntry{
		{Index: 0, Namespace: "test", Set: "s1", Digest: digestOf(1), Bins: allBins},
		{Index: 1, Namespace: "test", Set: "s1", Digest: digestOf(2), Bins: allBins}, // should repeat
		{Index: 2, Namespace: "test", Set: "s1", Digest: digestOf(3), Bins: named},   // different selection
	}

	buf := Encode(entries, RequestOptions{SendSetName: true})

	// Walk the proto header + msg header + field header manually to
	// find the repeat flags without a full response-shaped decoder.
	p := buf[protoHeaderSize+msgHeaderSize:]
	fieldLen := binary.BigEndian.Uint32(p)
	_ = fieldLen
	p = p[4+1:] // field length + type byte
	nEntries := binary.BigEndian.Uint32(p)
	if nEntries != 3 {
		t.Fatalf("expected 3 entries, got %d", nEntries)
	}
	p = p[4+1:] // count + allow_inline

	// entry 0: index(4) + digest(20) + repeat_flag(1), expect repeat=0
	p = p[4+20:]
	if p[0] != 0 {
		t.Fatalf("entry 0 should not repeat, got flag %d", p[0])
	}
	p = p[1:]
	// skip full header: read_attr(1) + field_count(2) + n_bin_ops(2) + ns field
	p = p[1+2+2:]
	nsLen := binary.BigEndian.Uint32(p)
	p = p[4+int(nsLen):]
	setLen := binary.BigEndian.Uint32(p)
	p = p[4+int(setLen):]

	// entry 1: index + digest + repeat flag, expect repeat=1 (same selection by reference)
	p = p[4+20:]
	if p[0] != 1 {
		t.Fatalf("entry 1 should repeat (same BinSelection pointer), got flag %d", p[0])
	}
	p = p[1:]

	// entry 2: index + digest + repeat flag, expect repeat=0 (different selection)
	p = p[4+20:]
	if p[0] != 0 {
		t.Fatalf("entry 2 should not repeat (different BinSelection pointer), got flag %d", p[0])
	}
}

func buildResponseFrame(records []struct {
	index  uint32
	rc     ResultCode
	gen    uint32
	ttl    uint32
	last   bool
	bins   map[string]string
}) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		h := make([]byte, msgHeaderSize)
		h[0] = msgHeaderSize
		h[3] = 0
		if r.last {
			h[3] |= info3Last
		}
		h[5] = byte(r.rc)
		binary.BigEndian.PutUint32(h[6:10], r.gen)
		binary.BigEndian.PutUint32(h[10:14], r.ttl)
		binary.BigEndian.PutUint32(h[14:18], r.index)
		binary.BigEndian.PutUint16(h[18:20], 0) // n_fields
		binary.BigEndian.PutUint16(h[20:22], uint16(len(r.bins)))
		buf.Write(h)
		for name, val := range r.bins {
			opSize := 1 + 1 + 1 + len(name) + 1 + len(val)
			var opHdr [4]byte
			binary.BigEndian.PutUint32(opHdr[:], uint32(opSize))
			buf.Write(opHdr[:])
			buf.WriteByte(1)
			buf.WriteByte(0)
			buf.WriteByte(byte(len(name)))
			buf.WriteString(name)
			buf.WriteByte(byte(CompressNone))
			buf.WriteString(val)
		}
	}
	return buf.Bytes()
}

func TestParseMessageOrderPreservation(t *testing.T) {
	frame := buildResponseFrame([]struct {
		index uint32
		rc    ResultCode
		gen   uint32
		ttl   uint32
		last  bool
		bins  map[string]string
	}{
		{index: 2, rc: ResultOK, gen: 1, ttl: 100, bins: map[string]string{"x": "v2"}},
		{index: 0, rc: ResultOK, gen: 1, ttl: 100, bins: map[string]string{"x": "v0"}},
		{index: 1, rc: ResultNotFound},
		{index: 0, rc: ResultOK, last: true},
	})

	var seen []uint32
	slots := map[uint32]*Record{}
	done, err := ParseMessage(frame, 3, func(index uint32, rc ResultCode, rec *Record) error {
		seen = append(seen, index)
		if rc == ResultOK && rec != nil {
			slots[index] = rec
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected done=true after LAST marker")
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 records dispatched before LAST, got %d (%v)", len(seen), seen)
	}
	if seen[0] != 2 || seen[1] != 0 || seen[2] != 1 {
		t.Fatalf("records dispatched out of wire order: got %v, want [2 0 1]", seen)
	}
	if slots[2].Bins["x"].Raw == nil || string(slots[2].Bins["x"].Raw) != "v2" {
		t.Errorf("index 2 bin mismatch: %+v", slots[2])
	}
	if string(slots[0].Bins["x"].Raw) != "v0" {
		t.Errorf("index 0 bin mismatch: %+v", slots[0])
	}
}

func TestParseMessageStopBatch(t *testing.T) {
	frame := buildResponseFrame([]struct {
		index uint32
		rc    ResultCode
		gen   uint32
		ttl   uint32
		last  bool
		bins  map[string]string
	}{
		{index: 0, rc: ResultOK, bins: map[string]string{"a": "1"}},
		{index: 1, rc: ResultParameter},
	})

	var seen []uint32
	done, err := ParseMessage(frame, 2, func(index uint32, rc ResultCode, rec *Record) error {
		seen = append(seen, index)
		return nil
	})
	if err == nil {
		t.Fatal("expected stop-batch error")
	}
	if !done {
		t.Fatal("stop-batch must report done=true")
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one record before the stop-batch code, got %d", len(seen))
	}
}

func TestParseMessageProtocolViolation(t *testing.T) {
	frame := buildResponseFrame([]struct {
		index uint32
		rc    ResultCode
		gen   uint32
		ttl   uint32
		last  bool
		bins  map[string]string
	}{
		{index: 5, rc: ResultOK},
	})

	_, err := ParseMessage(frame, 2, func(uint32, ResultCode, *Record) error { return nil })
	if err == nil {
		t.Fatal("expected protocol violation for out-of-range batch index")
	}
}

func TestBinValueDecodeOpaqueWhenNotDeserializing(t *testing.T) {
	v := BinValue{CompressionTag: CompressZSTD, Raw: []byte("not-really-zstd")}
	out, err := v.Decode(false)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "not-really-zstd" {
		t.Errorf("expected opaque passthrough, got %q", out)
	}
}

// TestPredExpSurvivesRetryReencoding reproduces a predicate-expression
// policy carried across a retry: the parent command's RequestOptions
// is reused (not rebuilt) to re-encode the request against a second
// node, and the predicate expression field bytes on the wire must come
// out byte-identical both times, with the header reporting two fields
// (the predicate expression plus the batch-index field).
func TestPredExpSurvivesRetryReencoding(t *testing.T) {
	predExp := []byte{fieldPredExp, 0xDE, 0xAD, 0xBE, 0xEF}
	predExp = append(binary.BigEndian.AppendUint32(nil, uint32(len(predExp))), predExp...)

	opts := RequestOptions{SendSetName: true, PredExp: predExp}
	entries := []BatchEntry{
		{Index: 0, Namespace: "test", Set: "s1", Digest: digestOf(1), Bins: &BinSelection{AllBins: true}},
	}

	first := Encode(entries, opts)
	// A retry re-encodes from the same parent RequestOptions against a
	// (possibly) different node; opts.PredExp itself is never mutated
	// or rebuilt between rounds.
	retry := Encode(entries, opts)

	firstHdr := first[protoHeaderSize : protoHeaderSize+msgHeaderSize]
	if fieldCount := binary.BigEndian.Uint16(firstHdr[18:20]); fieldCount != 2 {
		t.Fatalf("expected 2 header fields with a predicate expression present, got %d", fieldCount)
	}

	firstPred := first[protoHeaderSize+msgHeaderSize : protoHeaderSize+msgHeaderSize+len(predExp)]
	retryPred := retry[protoHeaderSize+msgHeaderSize : protoHeaderSize+msgHeaderSize+len(predExp)]
	if !bytes.Equal(firstPred, predExp) {
		t.Fatalf("initial encode's predicate field bytes = %x, want %x", firstPred, predExp)
	}
	if !bytes.Equal(retryPred, predExp) {
		t.Fatalf("retry's predicate field bytes = %x, want %x", retryPred, predExp)
	}
	if !bytes.Equal(firstPred, retryPred) {
		t.Fatalf("predicate field bytes changed across retry: first=%x retry=%x", firstPred, retryPred)
	}
}

func TestCompressZSTDRoundTrip(t *testing.T) {
	v, err := CompressZSTDBlock([]byte("hello batch world"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := v.Decode(true)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello batch world" {
		t.Errorf("roundtrip mismatch: %q", out)
	}
}

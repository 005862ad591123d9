package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	lzf "github.com/zhuyie/golzf"
)

// CompressionTag is the one-byte codec tag prefixing a bin value's
// payload (SPEC_FULL.md §3.1, supplemented from the teacher's RDB
// string encodings in internal/replica/rdb_string.go).
type CompressionTag byte

const (
	CompressNone CompressionTag = iota
	CompressLZF
	CompressLZ4
	CompressZSTD
)

// Decode decompresses v.Raw per its CompressionTag. deserialize=false
// returns the tagged blob untouched (spec.md §4.B.5's "opaque blob"
// case); deserialize=true eagerly decompresses.
func (v BinValue) Decode(deserialize bool) ([]byte, error) {
	if !deserialize || v.CompressionTag == CompressNone {
		return v.Raw, nil
	}
	switch v.CompressionTag {
	case CompressLZF:
		return decompressLZF(v.Raw)
	case CompressLZ4:
		return decompressLZ4(v.Raw)
	case CompressZSTD:
		return decompressZSTD(v.Raw)
	default:
		return nil, fmt.Errorf("wire: unknown compression tag %d", v.CompressionTag)
	}
}

func decompressLZF(src []byte) ([]byte, error) {
	// LZF payloads are length-prefixed with the original size so the
	// destination buffer can be sized exactly, matching the teacher's
	// readLZFString framing.
	if len(src) < 4 {
		return nil, fmt.Errorf("wire: lzf payload too short")
	}
	origLen := int(src[0])<<24 | int(src[1])<<16 | int(src[2])<<8 | int(src[3])
	dst := make([]byte, origLen)
	n, err := lzf.Decompress(src[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("wire: lzf decompress: %w", err)
	}
	return dst[:n], nil
}

func decompressLZ4(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wire: lz4 decompress: %w", err)
	}
	return out, nil
}

func decompressZSTD(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("wire: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompress: %w", err)
	}
	return out, nil
}

// CompressZSTDBlock compresses raw into a ZSTD-tagged BinValue, used by
// the in-process fake server/tests to produce realistic compressed bin
// values without a real cluster.
func CompressZSTDBlock(raw []byte) (BinValue, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return BinValue{}, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return BinValue{}, err
	}
	if err := enc.Close(); err != nil {
		return BinValue{}, err
	}
	return BinValue{CompressionTag: CompressZSTD, Raw: buf.Bytes()}, nil
}

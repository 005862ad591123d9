package dkvbatch

import (
	"crypto/sha1"
	"fmt"
)

// maxNamespaceLen and maxSetLen bound the short strings spec.md §3
// names; they are validated, not silently truncated.
const (
	maxNamespaceLen = 31
	maxSetLen       = 63
)

// keyTypeTag distinguishes the encoded representation of a user key's
// value ahead of hashing, mirroring the original's particle-type byte
// so integer, string, and blob keys with identical bytes never
// collide. No pack example produces a 20-byte content digest; this is
// the one place this module reaches for crypto/sha1 directly rather
// than an example-grounded dependency (see DESIGN.md).
type keyTypeTag byte

const (
	keyTypeInteger keyTypeTag = 3
	keyTypeString  keyTypeTag = 4
	keyTypeBlob    keyTypeTag = 5
)

// Key identifies one record: a namespace, an optional set, and a
// content digest derived from (set, key-type, key-bytes).
type Key struct {
	Namespace string
	Set       string
	Digest    [20]byte
}

// NewKeyFromString builds a Key from a string user-key, computing its
// digest immediately (spec.md §3: "MUST be computed before resolution
// and is stable across retries").
func NewKeyFromString(namespace, set, userKey string) (Key, error) {
	return newKey(namespace, set, keyTypeString, []byte(userKey))
}

// NewKeyFromBytes builds a Key from an opaque blob user-key.
func NewKeyFromBytes(namespace, set string, userKey []byte) (Key, error) {
	return newKey(namespace, set, keyTypeBlob, userKey)
}

// NewKeyFromInt builds a Key from an integer user-key.
func NewKeyFromInt(namespace, set string, userKey int64) (Key, error) {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(userKey)
		userKey >>= 8
	}
	return newKey(namespace, set, keyTypeInteger, buf[:])
}

func newKey(namespace, set string, tag keyTypeTag, keyBytes []byte) (Key, error) {
	if len(namespace) == 0 || len(namespace) > maxNamespaceLen {
		return Key{}, fmt.Errorf("dkvbatch: namespace length must be 1..%d bytes", maxNamespaceLen)
	}
	if len(set) > maxSetLen {
		return Key{}, fmt.Errorf("dkvbatch: set name exceeds %d bytes", maxSetLen)
	}
	h := sha1.New()
	h.Write([]byte(set))
	h.Write([]byte{byte(tag)})
	h.Write(keyBytes)
	var digest [20]byte
	copy(digest[:], h.Sum(nil))
	return Key{Namespace: namespace, Set: set, Digest: digest}, nil
}

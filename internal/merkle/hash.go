package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Size is the length in bytes of a Digest.
const Size = sha256.Size

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// emptySentinel is hashed to produce the root of a tree with no leaves.
var emptySentinel = []byte("EMPTY")

// ErrInvalidDigest is returned when a string is not a hex-encoded 32-byte digest.
var ErrInvalidDigest = errors.New("merkle: invalid digest")

// Digest is a SHA-256 output.
type Digest [Size]byte

// String returns the lowercase hex encoding of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex string (either case) into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*Size {
		return d, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidDigest, 2*Size, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(strings.ToLower(s))); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return d, nil
}

// LeafHash returns SHA-256(0x00 || payload).
func LeafHash(payload []byte) Digest {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(payload)
	var d Digest
	h.Sum(d[:0])
	return d
}

// NodeHash returns SHA-256(0x01 || left || right).
func NodeHash(left, right Digest) Digest {
	var buf [1 + 2*Size]byte
	buf[0] = nodePrefix
	copy(buf[1:], left[:])
	copy(buf[1+Size:], right[:])
	return sha256.Sum256(buf[:])
}

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() Digest {
	return sha256.Sum256(emptySentinel)
}

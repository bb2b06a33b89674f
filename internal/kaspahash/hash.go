// Package kaspahash defines the 32-byte opaque identifiers the rest of
// the daemon keys its maps by: BlockHash and TxId. Naming follows
// domain/consensus/model/externalapi's DomainHash convention.
package kaspahash

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Size is the length in bytes of a hash.
const Size = 32

// Hash is a 32-byte opaque identifier, used by value as a map key so
// that equality and hashing follow byte content automatically.
type Hash [Size]byte

// BlockHash identifies a CacheBlock.
type BlockHash = Hash

// TxId identifies a CacheTransaction.
type TxId = Hash

// NewFromSlice builds a Hash from a byte slice, which must be exactly
// Size bytes long.
func NewFromSlice(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, errors.Errorf("invalid hash length %d, expected %d", len(b), Size)
	}
	copy(h[:], b)
	return h, nil
}

// NewFromString parses a hex-encoded hash.
func NewFromString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrap(err, "invalid hash hex string")
	}
	return NewFromSlice(b)
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash's bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

package form

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot separates snapshot hashes from any other hash the
// persistence layer might compute over the same bytes.
const DomainSnapshot = "sopsync/snapshot/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash returns a stable content hash for a state. Two states with
// the same keys and values hash identically regardless of map order or
// Unicode normalization form.
func SnapshotHash(s State) (string, error) {
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(s State) string {
	h, err := SnapshotHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

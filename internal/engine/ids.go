package engine

import "github.com/google/uuid"

// IDGenerator produces stream session ids.
// Implemented by UUIDv7Generator (production) and
// testutil.SequentialIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids, so logs and
// history sort by creation time. Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7. Panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

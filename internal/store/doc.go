// Package store provides SQLite-backed persistence for form snapshots and
// their change history.
//
// Two tables:
//   - snapshots: latest canonical JSON snapshot per form key. This is the
//     key-value collaborator formstate writes through to.
//   - changes: append-only log of applied field writes, keyed by the logical
//     seq stamped by formstate.Clock. LastSeq reads the high-water mark so
//     the next process continues the sequence.
//
// History reads are ordered by seq ASC, never by wall time. Change writes
// are idempotent on seq (ON CONFLICT DO NOTHING).
//
// The schema version lives in PRAGMA user_version; Open applies any
// migration above it, one transaction per step.
package store

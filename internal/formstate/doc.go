// Package formstate holds the single source of truth for one template's
// field values.
//
// A Store exposes exactly two mutators:
//
//   - ApplyUserEdit overwrites unconditionally. The user always wins.
//   - ApplyMerge writes a key only when the current value is empty. Prefill
//     and assistant updates both go through it, so they can add information
//     but never destroy it. Re-applying the same merge is a no-op.
//
// Values are checked against the template at write time: unknown field ids
// and scalar/list shape mismatches are refused (ApplyUserEdit) or skipped per
// key (ApplyMerge).
//
// Every change is written through to a Persister as a canonical JSON
// snapshot. Persistence is best effort: failures are logged and counted, and
// the in-memory state stays authoritative.
package formstate

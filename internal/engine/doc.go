// Package engine implements the session orchestrator.
//
// The engine owns the active template, its form store and at most one
// streaming assistant reply. It sequences user edits, prefill and assistant
// updates so that none of them silently overwrites another.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every mutation runs on the Run goroutine. Command methods enqueue an event
// and wait for its result; the transport goroutine enqueues chunk and
// completion events tagged with the session id. This ensures:
//   - edits and merges are applied in arrival order
//   - a reply's chunks are parsed in the order they were produced
//   - the form is never written from two goroutines
//
// Reply lifecycle:
//  1. SubmitChat opens a StreamSession (rejected while another is open)
//  2. chunks feed the session's stream.Parser; observers see visible text only
//  3. on completion the update block is sanitized and merged non-destructively
//  4. on transport failure the form is left untouched
//
// Opening another template cancels the open session. Events that arrive
// later for a session that is no longer open are dropped by id.
//
// Merge rules:
// Assistant and prefill values only fill empty fields. A user edit always
// wins, including over a value the assistant just wrote.
package engine

// Package stream separates an assistant reply into the text shown to the
// user and the structured form update embedded in it.
//
// A reply may carry one block delimited by a marker pair (by default
// <form_update> ... </form_update>) whose trimmed interior is a JSON object
// mapping field ids to strings or string arrays.
//
// Parsing happens in two phases:
//
//  1. Feed, while the reply streams in: returns the visible text so far.
//     A completed first block is stripped, an unterminated first block is
//     withheld from its open marker onward, and a trailing prefix of the
//     open marker is withheld until it completes or is disproved.
//  2. Finalize, once: scans the full text for the first block and decodes it.
//
// Only the first block is honored. Marker text after it stays visible.
package stream

// Package form provides the value types shared by every part of sopsync.
//
// This package contains value definitions only. All other internal packages
// import form; form imports nothing internal.
//
// Key design constraints:
//   - A field value is exactly one of: empty, a scalar string, or an ordered
//     list of strings. Nothing else crosses a package boundary.
//   - Keys missing from a State read as empty.
//   - Persisted snapshots use MarshalCanonical so equal states produce equal
//     bytes (and equal SnapshotHash values).
package form

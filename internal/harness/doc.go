// Package harness runs conformance scenarios against the session engine.
//
// A scenario opens templates, edits fields and chats with a scripted
// assistant, then asserts on the final form and on the change history the
// engine recorded. Every run uses the real engine, a fresh in-memory SQLite
// store, a deterministic clock and sequential session ids.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	templates:
//	  - ../templates/sop.yaml
//	profile: { organization_name: Green Acres }
//	replies:
//	  - chunks: ["Done. <form_update>", '{"risk_level": "High"}', "</form_update>"]
//	steps:
//	  - open: { template: 4 }
//	  - edit: { field: prepared_by, value: Alex }
//	  - chat: Please assess our risks.
//	  - open: { template: 99 }
//	    expect_error: UNKNOWN_TEMPLATE
//	assertions:
//	  - type: field
//	    field: risk_level
//	    equals: High
//
// # Assertion Types
//
//   - field: the final value of a field (null matches empty)
//   - missing_required: required fields still empty, in schema order
//   - completion: completion percent
//   - change_count: number of history entries, filtered by source and field
//   - change_order: first changes of the listed fields happen in order
//   - reply: status, visible text and applied keys of one reply
//
// # Golden Snapshots
//
// RunWithGolden compares the history, replies, step errors and final state
// against testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness

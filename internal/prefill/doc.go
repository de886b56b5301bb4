// Package prefill computes the candidate values a template is seeded with
// before the user types anything, and encodes/decodes share links carrying a
// previously filled form.
//
// Resolve is pure. Its output is applied with formstate.Store.ApplyMerge, so
// re-running it after the user has edited the form never overwrites anything.
package prefill

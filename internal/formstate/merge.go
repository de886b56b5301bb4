package formstate

// SkipReason explains why a merge key was not written.
type SkipReason string

const (
	SkipUnknownField  SkipReason = "unknown_field"
	SkipShapeMismatch SkipReason = "shape_mismatch"
	SkipNotEmpty      SkipReason = "not_empty"
	SkipEmptyValue    SkipReason = "empty_value"
)

// Skip is one merge key that was not written.
type Skip struct {
	FieldID string     `json:"field_id"`
	Reason  SkipReason `json:"reason"`
}

// MergeResult reports what ApplyMerge did, keys in canonical order.
type MergeResult struct {
	Applied []string `json:"applied"`
	Skipped []Skip   `json:"skipped"`
}

// Changed reports whether any field was written.
func (r MergeResult) Changed() bool {
	return len(r.Applied) > 0
}

// SkippedFor returns the keys skipped for reason.
func (r MergeResult) SkippedFor(reason SkipReason) []string {
	var ids []string
	for _, s := range r.Skipped {
		if s.Reason == reason {
			ids = append(ids, s.FieldID)
		}
	}
	return ids
}

func (r *MergeResult) skip(fieldID string, reason SkipReason) {
	r.Skipped = append(r.Skipped, Skip{FieldID: fieldID, Reason: reason})
}

// Package review computes completion and validation views over a template
// and a form state. Everything here is pure and recomputed on demand.
package review

import (
	"math"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/schema"
)

// SectionProgress is the fill state of one section.
type SectionProgress struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Filled          int      `json:"filled"`
	Total           int      `json:"total"`
	MissingRequired []string `json:"missing_required"`
}

// Complete reports whether every field in the section is filled.
func (p SectionProgress) Complete() bool {
	return p.Filled == p.Total
}

// Report combines every view for one state.
type Report struct {
	TemplateID      int               `json:"template_id"`
	Filled          int               `json:"filled"`
	Total           int               `json:"total"`
	Ratio           float64           `json:"ratio"`
	Percent         int               `json:"percent"`
	MissingRequired []string          `json:"missing_required"`
	Sections        []SectionProgress `json:"sections"`
}

// Ready reports whether all required fields are filled.
func (r Report) Ready() bool {
	return len(r.MissingRequired) == 0
}

// CompletionRatio returns filled fields over total fields, exact.
// A template without fields has ratio 0.
func CompletionRatio(tmpl *schema.Template, state form.State) float64 {
	filled, total := count(tmpl, state)
	if total == 0 {
		return 0
	}
	return float64(filled) / float64(total)
}

// MissingRequired returns required field ids whose value is empty, in
// schema order.
func MissingRequired(tmpl *schema.Template, state form.State) []string {
	missing := []string{}
	for _, f := range tmpl.Fields() {
		if f.Required && state.Get(f.ID).IsEmpty() {
			missing = append(missing, f.ID)
		}
	}
	return missing
}

// Sections returns per-section progress in schema order.
func Sections(tmpl *schema.Template, state form.State) []SectionProgress {
	out := make([]SectionProgress, 0, len(tmpl.Sections))
	for _, sec := range tmpl.Sections {
		p := SectionProgress{
			ID:              sec.ID,
			Title:           sec.Title,
			Total:           len(sec.Fields),
			MissingRequired: []string{},
		}
		for _, f := range sec.Fields {
			empty := state.Get(f.ID).IsEmpty()
			if !empty {
				p.Filled++
			}
			if f.Required && empty {
				p.MissingRequired = append(p.MissingRequired, f.ID)
			}
		}
		out = append(out, p)
	}
	return out
}

// Evaluate builds the full report.
func Evaluate(tmpl *schema.Template, state form.State) Report {
	filled, total := count(tmpl, state)
	ratio := CompletionRatio(tmpl, state)
	return Report{
		TemplateID:      tmpl.ID,
		Filled:          filled,
		Total:           total,
		Ratio:           ratio,
		Percent:         Percent(ratio),
		MissingRequired: MissingRequired(tmpl, state),
		Sections:        Sections(tmpl, state),
	}
}

// Percent rounds a ratio for display.
func Percent(ratio float64) int {
	return int(math.Round(ratio * 100))
}

func count(tmpl *schema.Template, state form.State) (filled, total int) {
	for _, f := range tmpl.Fields() {
		total++
		if !state.Get(f.ID).IsEmpty() {
			filled++
		}
	}
	return filled, total
}

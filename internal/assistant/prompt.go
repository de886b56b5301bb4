package assistant

import (
	"fmt"
	"strings"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/schema"
)

// BuildSystemPrompt describes the template, the current values and the
// update block grammar delimited by open/close.
func BuildSystemPrompt(tmpl *schema.Template, state form.State, open, close string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You help a farmer complete the %q standard operating procedure.\n", tmpl.Name)
	b.WriteString("Answer in plain language. When you can propose values for empty fields, ")
	fmt.Fprintf(&b, "append exactly one block of the form %s{...}%s containing a JSON object ", open, close)
	b.WriteString("whose keys are field ids. Use a JSON string for single-value fields and a JSON array of strings ")
	b.WriteString("for multi-select fields. Only propose values for fields that are currently empty.\n")

	for _, sec := range tmpl.Sections {
		fmt.Fprintf(&b, "\n## %s\n", sec.Title)
		for _, f := range sec.Fields {
			fmt.Fprintf(&b, "- %s (%s", f.ID, f.Type)
			if f.Required {
				b.WriteString(", required")
			}
			fmt.Fprintf(&b, "): %s", f.Label)
			if len(f.Options) > 0 {
				fmt.Fprintf(&b, " [options: %s]", strings.Join(f.Options, ", "))
			}
			if v := state.Get(f.ID); !v.IsEmpty() {
				fmt.Fprintf(&b, " = %s", v)
			} else {
				b.WriteString(" = (empty)")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

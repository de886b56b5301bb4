package schema

// FieldType is the closed set of input kinds a template may use.
type FieldType string

const (
	FieldText             FieldType = "text"
	FieldTextarea         FieldType = "textarea"
	FieldDate             FieldType = "date"
	FieldSelect           FieldType = "select"
	FieldCheckboxMultiple FieldType = "checkbox-multiple"
)

// ValidFieldTypes defines allowed field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldText:             true,
	FieldTextarea:         true,
	FieldDate:             true,
	FieldSelect:           true,
	FieldCheckboxMultiple: true,
}

// IsList reports whether values of this type are lists of strings.
func (t FieldType) IsList() bool {
	return t == FieldCheckboxMultiple
}

// FieldDef describes one input.
type FieldDef struct {
	ID       string    `json:"id" yaml:"id"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Options  []string  `json:"options,omitempty" yaml:"options,omitempty"`
}

// SectionDef groups fields under a heading. Field order is display order.
type SectionDef struct {
	ID     string     `json:"id" yaml:"id"`
	Title  string     `json:"title" yaml:"title"`
	Fields []FieldDef `json:"fields" yaml:"fields"`
}

// LogTable describes the repeating log grid printed at the end of a
// template. It carries no form state.
type LogTable struct {
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Template is one compliance document type.
type Template struct {
	ID       int          `json:"id" yaml:"id"`
	Key      string       `json:"key" yaml:"key"`
	Name     string       `json:"name" yaml:"name"`
	Sections []SectionDef `json:"sections" yaml:"sections"`
	LogTable LogTable     `json:"log_table,omitempty" yaml:"log_table,omitempty"`
}

// Fields returns every field in schema order (section order, then field order).
func (t *Template) Fields() []FieldDef {
	var out []FieldDef
	for _, s := range t.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

// Field looks up a field by id.
func (t *Template) Field(id string) (FieldDef, bool) {
	for _, s := range t.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return FieldDef{}, false
}

// RequiredFields returns the ids of required fields in schema order.
func (t *Template) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields() {
		if f.Required {
			out = append(out, f.ID)
		}
	}
	return out
}

// FieldCount returns the total number of fields.
func (t *Template) FieldCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Fields)
	}
	return n
}

package schema

import "fmt"

// Validate checks a template's structural invariants and returns every
// problem found. A nil result means the template is usable.
func Validate(t *Template) []error {
	var errs []error
	add := func(code, path, format string, args ...any) {
		errs = append(errs, &LoadError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	root := t.Key
	if root == "" {
		root = fmt.Sprintf("template[%d]", t.ID)
	}
	if t.ID <= 0 {
		add(ErrCodeMissingID, root, "template id must be a positive integer, got %d", t.ID)
	}

	seen := make(map[string]string)
	fields := 0
	for si, s := range t.Sections {
		sPath := fmt.Sprintf("%s.sections[%d]", root, si)
		if s.ID == "" {
			add(ErrCodeMissingID, sPath, "section id is required")
		} else {
			sPath = root + "." + s.ID
		}

		for fi, f := range s.Fields {
			fields++
			fPath := fmt.Sprintf("%s.fields[%d]", sPath, fi)
			if f.ID == "" {
				add(ErrCodeMissingID, fPath, "field id is required")
				continue
			}
			fPath = sPath + "." + f.ID

			if prev, dup := seen[f.ID]; dup {
				add(ErrCodeDuplicateField, fPath, "field id %q already declared at %s", f.ID, prev)
			} else {
				seen[f.ID] = fPath
			}

			if !ValidFieldTypes[f.Type] {
				add(ErrCodeInvalidType, fPath, "unknown field type %q", f.Type)
				continue
			}
			if (f.Type == FieldSelect || f.Type == FieldCheckboxMultiple) && len(f.Options) == 0 {
				add(ErrCodeMissingOptions, fPath, "%s field must declare options", f.Type)
			}
		}
	}

	if fields == 0 {
		add(ErrCodeNoFields, root, "template declares no fields")
	}

	return errs
}

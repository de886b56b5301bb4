package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ParseCUE compiles CUE source and returns every template declared under
// the top-level `template` struct, in declaration order.
func ParseCUE(filename string, src []byte) ([]Template, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	templatesVal := v.LookupPath(cue.ParsePath("template"))
	if !templatesVal.Exists() {
		return nil, nil
	}

	iter, err := templatesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []Template
	for iter.Next() {
		tmpl, err := CompileTemplate(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, *tmpl)
	}
	return out, nil
}

// CompileTemplate parses a single CUE template struct. The template key is
// taken from the struct label, e.g. `template: biosecurity: {...}` has key
// "biosecurity".
func CompileTemplate(v cue.Value) (*Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tmpl := &Template{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		tmpl.Key = labels[len(labels)-1].String()
	}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return nil, &LoadError{Code: ErrCodeMissingID, Path: tmpl.Key, Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	tmpl.ID = int(id)

	if tmpl.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}

	sectionsVal := v.LookupPath(cue.ParsePath("sections"))
	if sectionsVal.Exists() {
		iter, err := sectionsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			section, err := parseSection(iter.Value())
			if err != nil {
				return nil, err
			}
			tmpl.Sections = append(tmpl.Sections, section)
		}
	}

	columns, err := optionalStrings(v, "log_table.columns")
	if err != nil {
		return nil, err
	}
	tmpl.LogTable.Columns = columns

	return tmpl, nil
}

func parseSection(v cue.Value) (SectionDef, error) {
	var s SectionDef
	var err error
	if s.ID, err = optionalString(v, "id"); err != nil {
		return s, err
	}
	if s.Title, err = optionalString(v, "title"); err != nil {
		return s, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return s, nil
	}
	iter, err := fieldsVal.List()
	if err != nil {
		return s, formatCUEError(err)
	}
	for iter.Next() {
		f, err := parseField(iter.Value())
		if err != nil {
			return s, err
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func parseField(v cue.Value) (FieldDef, error) {
	var f FieldDef
	var err error
	if f.ID, err = optionalString(v, "id"); err != nil {
		return f, err
	}
	if f.Label, err = optionalString(v, "label"); err != nil {
		return f, err
	}
	typ, err := optionalString(v, "type")
	if err != nil {
		return f, err
	}
	f.Type = FieldType(typ)

	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		if f.Required, err = reqVal.Bool(); err != nil {
			return f, formatCUEError(err)
		}
	}

	if f.Options, err = optionalStrings(v, "options"); err != nil {
		return f, err
	}
	return f, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Code:    ErrCodeLoadFailed,
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return fmt.Errorf("cue: %w", err)
}

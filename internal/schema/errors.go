package schema

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error codes shared by the loaders and the validator.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeScanError      = "E002" // Directory scan error
	ErrCodeNoFiles        = "E003" // No template files found
	ErrCodeLoadFailed     = "E004" // File could not be read or parsed
	ErrCodeNotFound       = "E005" // Path not found
	ErrCodeMissingID      = "E201" // Template, section or field without id
	ErrCodeDuplicateField = "E202" // Field id used twice in one template
	ErrCodeInvalidType    = "E203" // Unknown field type
	ErrCodeMissingOptions = "E204" // select / checkbox-multiple without options
	ErrCodeDuplicateID    = "E205" // Template id used twice in one registry
	ErrCodeNoFields       = "E206" // Template declares no fields
)

// LoadError reports a problem found while loading or validating templates.
type LoadError struct {
	Code    string
	Path    string // template.section.field path, when known
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	loc := ""
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s: %s", loc, e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s%s: %s", loc, e.Code, e.Message)
}

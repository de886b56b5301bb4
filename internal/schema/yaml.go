package schema

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlFile is the on-disk shape of a YAML template file.
type yamlFile struct {
	Templates []Template `yaml:"templates"`
}

// ParseYAML decodes a YAML document with a top-level `templates` list.
// Unknown keys are rejected so typos in field definitions surface early.
func ParseYAML(data []byte) ([]Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f yamlFile
	if err := dec.Decode(&f); err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("decode yaml: %v", err)}
	}
	return f.Templates, nil
}

package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the templates read from a directory.
type LoadResult struct {
	Templates []Template
	Files     []string // template files found, sorted
}

// LoadDir reads every .cue, .yaml and .yml file under dir.
// The returned result holds whatever parsed successfully, even when errors
// are also returned (LoadModeCollectAll).
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("templates directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing templates directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindTemplateFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no template files found in %s", dir)}}
	}

	result := &LoadResult{Files: files}
	var errs []error
	for _, path := range files {
		templates, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Templates = append(result.Templates, templates...)
	}
	return result, errs
}

// LoadFile parses a single template file by extension.
func LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("read %s: %v", path, err)}
	}

	var templates []Template
	switch filepath.Ext(path) {
	case ".cue":
		templates, err = ParseCUE(path, data)
	case ".yaml", ".yml":
		templates, err = ParseYAML(data)
	default:
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported template file: %s", path)}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return templates, nil
}

// LoadRegistry loads a directory and builds a validated registry from it.
func LoadRegistry(dir string) (*Registry, []error) {
	res, errs := LoadDir(dir, LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, errs
	}
	return NewRegistry(res.Templates...)
}

// FindTemplateFiles walks the directory and returns all template file paths.
func FindTemplateFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

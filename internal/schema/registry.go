package schema

import (
	"fmt"
	"sort"
)

// Registry holds validated templates keyed by id.
// A Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	byID  map[int]*Template
	order []int
}

// NewRegistry validates and indexes the given templates. All problems are
// returned together; the registry is nil when any template is invalid.
func NewRegistry(templates ...Template) (*Registry, []error) {
	r := &Registry{byID: make(map[int]*Template, len(templates))}
	var errs []error

	for i := range templates {
		t := templates[i]
		if verrs := Validate(&t); len(verrs) > 0 {
			errs = append(errs, verrs...)
			continue
		}
		if prev, dup := r.byID[t.ID]; dup {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateID,
				Path:    t.Key,
				Message: fmt.Sprintf("template id %d already used by %q", t.ID, prev.Key),
			})
			continue
		}
		r.byID[t.ID] = &t
		r.order = append(r.order, t.ID)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	sort.Ints(r.order)
	return r, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id int) (*Template, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// All returns templates ordered by id.
func (r *Registry) All() []*Template {
	out := make([]*Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of templates.
func (r *Registry) Len() int {
	return len(r.order)
}

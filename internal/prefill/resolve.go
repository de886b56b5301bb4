package prefill

import (
	"slices"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/schema"
)

// Profile is a flat set of profile attributes. Values are normally scalars;
// a list value may fill a checkbox-multiple field with the same id.
type Profile map[string]form.Value

// ProfileFromStrings builds a Profile of scalar values.
func ProfileFromStrings(m map[string]string) Profile {
	p := make(Profile, len(m))
	for k, v := range m {
		p[k] = form.Scalar(v)
	}
	return p
}

// Mapping copies a profile attribute into a field with a different id.
type Mapping struct {
	ProfileKey string
	FieldID    string
}

// DefaultMappings are the cross-field aliases applied after share data and
// before direct id matches. Earlier entries take precedence.
var DefaultMappings = []Mapping{
	{ProfileKey: "organization_name", FieldID: "farm_name"},
	{ProfileKey: "owner_name", FieldID: "prepared_by"},
	{ProfileKey: "address", FieldID: "farm_address"},
	{ProfileKey: "phone", FieldID: "contact_phone"},
	{ProfileKey: "email", FieldID: "contact_email"},
	{ProfileKey: "cph_number", FieldID: "holding_number"},
}

// Resolve computes prefill values for tmpl using DefaultMappings.
func Resolve(tmpl *schema.Template, profile Profile, share *SharePayload) form.Partial {
	return ResolveWith(tmpl, profile, share, DefaultMappings)
}

// ResolveWith computes prefill values. Precedence, highest first:
//
//  1. share.FormData, when share.TemplateID matches tmpl.ID
//  2. mappings from profile attributes to field ids
//  3. profile keys equal to a field id
//
// A later rule only fills fields still unset. Values that are empty, target
// unknown fields or do not fit the field's shape are ignored; in particular a
// scalar never fills a checkbox-multiple field.
func ResolveWith(tmpl *schema.Template, profile Profile, share *SharePayload, mappings []Mapping) form.Partial {
	out := form.Partial{}

	offer := func(fieldID string, v form.Value) {
		if _, taken := out[fieldID]; taken || v.IsEmpty() {
			return
		}
		field, ok := tmpl.Field(fieldID)
		if !ok || field.Type.IsList() != v.IsList() {
			return
		}
		out[fieldID] = v
	}

	if share != nil && share.TemplateID == tmpl.ID {
		for _, id := range share.FormData.SortedKeys() {
			offer(id, share.FormData[id])
		}
	}

	for _, m := range mappings {
		if v, ok := profile[m.ProfileKey]; ok {
			offer(m.FieldID, v)
		}
	}

	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		offer(k, profile[k])
	}

	return out
}

package testutil

import (
	"testing"

	"github.com/roach88/sopsync/internal/schema"
)

// Template ids used across package tests.
const (
	BiosecurityID  = 4
	AnimalHealthID = 5
)

// BiosecurityTemplate mirrors schema/testdata/templates/biosecurity.cue.
func BiosecurityTemplate() schema.Template {
	return schema.Template{
		ID:   BiosecurityID,
		Key:  "biosecurity",
		Name: "Farm Biosecurity SOP",
		Sections: []schema.SectionDef{
			{
				ID:    "general",
				Title: "General information",
				Fields: []schema.FieldDef{
					{ID: "farm_name", Label: "Farm name", Type: schema.FieldText, Required: true},
					{ID: "prepared_by", Label: "Prepared by", Type: schema.FieldText, Required: true},
					{ID: "date_prepared", Label: "Date prepared", Type: schema.FieldDate, Required: true},
					{ID: "farm_address", Label: "Farm address", Type: schema.FieldTextarea},
				},
			},
			{
				ID:    "risk",
				Title: "Risk assessment",
				Fields: []schema.FieldDef{
					{ID: "risk_level", Label: "Overall risk level", Type: schema.FieldSelect, Required: true, Options: []string{"Low", "Medium", "High"}},
					{ID: "hazards", Label: "Identified hazards", Type: schema.FieldCheckboxMultiple, Options: []string{"Visitors", "Vehicles", "Wildlife", "Feed"}},
					{ID: "controls", Label: "Control measures", Type: schema.FieldTextarea},
				},
			},
		},
		LogTable: schema.LogTable{Columns: []string{"Date", "Visitor", "Purpose", "Signature"}},
	}
}

// AnimalHealthTemplate mirrors schema/testdata/templates/animal_health.yaml.
func AnimalHealthTemplate() schema.Template {
	return schema.Template{
		ID:   AnimalHealthID,
		Key:  "animal_health",
		Name: "Animal Health SOP",
		Sections: []schema.SectionDef{
			{
				ID:    "contacts",
				Title: "Veterinary contacts",
				Fields: []schema.FieldDef{
					{ID: "vet_name", Label: "Veterinarian", Type: schema.FieldText, Required: true},
					{ID: "farm_name", Label: "Farm name", Type: schema.FieldText, Required: true},
				},
			},
			{
				ID:    "treatment",
				Title: "Treatment plan",
				Fields: []schema.FieldDef{
					{ID: "treatments", Label: "Routine treatments", Type: schema.FieldCheckboxMultiple, Options: []string{"Vaccination", "Deworming", "Hoof care"}},
					{ID: "notes", Label: "Notes", Type: schema.FieldTextarea},
					{ID: "review_date", Label: "Next review", Type: schema.FieldDate},
				},
			},
		},
		LogTable: schema.LogTable{Columns: []string{"Date", "Animal", "Treatment"}},
	}
}

// Registry builds a registry with both sample templates.
func Registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, errs := schema.NewRegistry(BiosecurityTemplate(), AnimalHealthTemplate())
	if len(errs) > 0 {
		t.Fatalf("sample registry invalid: %v", errs)
	}
	return reg
}

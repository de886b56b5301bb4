// Package schema describes SOP templates: ordered sections of typed fields.
//
// Templates are immutable once loaded. They can be declared in CUE or YAML
// files and are collected into a Registry keyed by numeric template id.
//
// Example CUE declaration:
//
//	template: biosecurity: {
//		id:   4
//		name: "Farm Biosecurity SOP"
//		sections: [{
//			id:    "general"
//			title: "General information"
//			fields: [
//				{id: "farm_name", label: "Farm name", type: "text", required: true},
//			]
//		}]
//		log_table: columns: ["Date", "Visitor"]
//	}
package schema

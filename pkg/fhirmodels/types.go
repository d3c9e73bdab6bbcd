// Package fhirmodels defines the FHIR R4 wire types the service emits.
// Only the subset needed for vital-sign Observations and collection
// Bundles is modeled.
package fhirmodels

// Coding systems referenced by emitted resources.
const (
	SystemLOINC           = "http://loinc.org"
	SystemUCUM            = "http://unitsofmeasure.org"
	SystemOrganizationTag = "http://medhealth.local/organization"
)

// LOINC codes for the observed vitals.
const (
	LOINCHeartRate   = "8867-4"
	LOINCSpO2        = "2708-6"
	LOINCTemperature = "8310-5"
)

const (
	ObservationStatusFinal = "final"
	BundleTypeCollection   = "collection"
)

type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding"`
	Text   string   `json:"text"`
}

// Quantity carries the measured value. Value is float32 so temperatures
// serialize at sensor precision (36.6, not 36.599998...).
type Quantity struct {
	Value  float32 `json:"value"`
	Unit   string  `json:"unit"`
	System string  `json:"system"`
	Code   string  `json:"code"`
}

type Reference struct {
	Reference string `json:"reference"`
}

// Observation is a single vital-sign measurement.
type Observation struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Code              CodeableConcept `json:"code"`
	Subject           *Reference      `json:"subject,omitempty"`
	EffectiveDateTime string          `json:"effectiveDateTime"`
	ValueQuantity     Quantity        `json:"valueQuantity"`
	Device            Reference       `json:"device"`
}

// Tag labels a resource with the owning organization.
type Tag struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

type Meta struct {
	Source string `json:"source"`
	Tag    []Tag  `json:"tag"`
}

type BundleEntry struct {
	Resource Observation `json:"resource"`
}

// Bundle groups observations. Per-reading bundles carry Meta; the export
// bundle carries Total instead.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp"`
	Meta         *Meta         `json:"meta,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

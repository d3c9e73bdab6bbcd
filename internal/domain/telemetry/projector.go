package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/medhealth/telemetry/pkg/fhirmodels"
)

// Projector renders sensor readings as FHIR R4 observation bundles.
type Projector struct {
	baseURL string
	orgID   string
}

func NewProjector(baseURL, orgID string) *Projector {
	return &Projector{baseURL: baseURL, orgID: orgID}
}

func (p *Projector) observation(r *SensorReading, coding fhirmodels.Coding, text string,
	value float32, unit, unitCode string, subject *fhirmodels.Reference) fhirmodels.Observation {
	return fhirmodels.Observation{
		ResourceType: "Observation",
		ID:           uuid.New().String(),
		Status:       fhirmodels.ObservationStatusFinal,
		Code: fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{coding},
			Text:   text,
		},
		Subject:           subject,
		EffectiveDateTime: r.ReadingTimestamp.UTC().Format(time.RFC3339),
		ValueQuantity: fhirmodels.Quantity{
			Value:  value,
			Unit:   unit,
			System: fhirmodels.SystemUCUM,
			Code:   unitCode,
		},
		// Device references the internal row id, not the external
		// X-Device-Id identifier.
		Device: fhirmodels.Reference{Reference: "Device/" + r.DeviceID.String()},
	}
}

// ObservationBundle projects one reading into a collection bundle with one
// Observation per vital the reading carries. The bundle timestamp is the
// projection time; each observation's effectiveDateTime is the reading time.
func (p *Projector) ObservationBundle(r *SensorReading, subject *fhirmodels.Reference) fhirmodels.Bundle {
	entries := []fhirmodels.BundleEntry{}
	if r.HeartRate != nil {
		entries = append(entries, fhirmodels.BundleEntry{Resource: p.observation(r,
			fhirmodels.Coding{System: fhirmodels.SystemLOINC, Code: fhirmodels.LOINCHeartRate, Display: "Heart rate"},
			"Heart Rate", float32(*r.HeartRate), "beats/minute", "/min", subject)})
	}
	if r.SpO2 != nil {
		entries = append(entries, fhirmodels.BundleEntry{Resource: p.observation(r,
			fhirmodels.Coding{System: fhirmodels.SystemLOINC, Code: fhirmodels.LOINCSpO2, Display: "Oxygen saturation in Arterial blood"},
			"Oxygen Saturation (SpO2)", float32(*r.SpO2), "percent", "%", subject)})
	}
	if r.Temperature != nil {
		entries = append(entries, fhirmodels.BundleEntry{Resource: p.observation(r,
			fhirmodels.Coding{System: fhirmodels.SystemLOINC, Code: fhirmodels.LOINCTemperature, Display: "Body temperature"},
			"Body Temperature", *r.Temperature, "degrees Celsius", "Cel", subject)})
	}
	return fhirmodels.Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         fhirmodels.BundleTypeCollection,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Meta: &fhirmodels.Meta{
			Source: p.baseURL,
			Tag:    []fhirmodels.Tag{{System: fhirmodels.SystemOrganizationTag, Code: p.orgID}},
		},
		Entry: entries,
	}
}

// ExportBundle flattens the observations of many readings into a single
// collection bundle. Total counts observations, not readings.
func (p *Projector) ExportBundle(readings []*SensorReading) *fhirmodels.Bundle {
	entries := []fhirmodels.BundleEntry{}
	for _, r := range readings {
		b := p.ObservationBundle(r, nil)
		entries = append(entries, b.Entry...)
	}
	total := len(entries)
	return &fhirmodels.Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         fhirmodels.BundleTypeCollection,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Total:        &total,
		Entry:        entries,
	}
}

// ValidateObservation checks the minimal invariants of a stored observation
// resource: the right resourceType plus status and code fields.
func ValidateObservation(resource map[string]interface{}) bool {
	if rt, _ := resource["resourceType"].(string); rt != "Observation" {
		return false
	}
	if _, ok := resource["status"]; !ok {
		return false
	}
	_, ok := resource["code"]
	return ok
}

package conversion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhcx/fhir-converter/internal/platform/fhir"
	"github.com/nhcx/fhir-converter/pkg/fhirmodels"
)

// Builder assembles the FHIR collection bundle for one extracted patient.
// The zero field values are not usable; construct with NewBuilder.
type Builder struct {
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// NewBuilder returns a Builder stamping CoverageEligibilityRequest.created
// with the current date.
func NewBuilder() *Builder {
	return &Builder{nowFunc: time.Now}
}

// Build assembles the three-resource bundle: Patient, Coverage,
// CoverageEligibilityRequest, in that order.
func (b *Builder) Build(p PatientRecord) *fhir.Bundle {
	return fhir.NewCollectionBundle(
		b.buildPatient(p),
		b.buildCoverage(p),
		b.buildEligibilityRequest(p),
	)
}

// Render serializes the bundle for p as the pretty-printed document handed
// to callers and persisted verbatim for dedup replay.
func (b *Builder) Render(p PatientRecord) (string, error) {
	out, err := json.MarshalIndent(b.Build(p), "", "  ")
	if err != nil {
		return "", fmt.Errorf("conversion: marshal bundle: %w", err)
	}
	return string(out), nil
}

func (b *Builder) buildPatient(p PatientRecord) fhir.Patient {
	patient := fhir.Patient{
		ResourceType: "Patient",
		BirthDate:    FormatBirthDate(p.BirthDate),
		Gender:       MapGender(p.Gender),
	}
	if p.Identifier != "" {
		patient.Identifier = []fhir.Identifier{{
			System: fhirmodels.SystemABHA,
			Value:  p.Identifier,
		}}
	}
	// The name array holds exactly one entry when any name part is
	// present, and is omitted entirely when the PID carried no name.
	if p.FamilyName != "" || p.GivenName != "" {
		name := fhir.HumanName{Family: p.FamilyName}
		if p.GivenName != "" {
			name.Given = []string{p.GivenName}
		}
		patient.Name = []fhir.HumanName{name}
	}
	return patient
}

func (b *Builder) buildCoverage(p PatientRecord) fhir.Coverage {
	return fhir.Coverage{
		ResourceType: "Coverage",
		Status:       fhirmodels.CoverageStatusActive,
		Beneficiary: fhir.Reference{
			Reference: fhir.FormatReference("Patient", p.Identifier),
		},
		Payor: []fhir.Reference{{
			Reference: fhir.FormatReference("Organization", fhirmodels.OrganizationNHCX),
		}},
	}
}

func (b *Builder) buildEligibilityRequest(p PatientRecord) fhir.CoverageEligibilityRequest {
	return fhir.CoverageEligibilityRequest{
		ResourceType: "CoverageEligibilityRequest",
		Status:       fhirmodels.CoverageStatusActive,
		Purpose:      []string{fhirmodels.EligibilityPurposeValidation},
		Patient: fhir.Reference{
			Reference: fhir.FormatReference("Patient", p.Identifier),
		},
		Created: b.nowFunc().Format("2006-01-02"),
		Insurer: fhir.Reference{
			Reference: fhir.FormatReference("Organization", fhirmodels.OrganizationNHCX),
		},
	}
}

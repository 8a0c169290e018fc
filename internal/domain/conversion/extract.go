package conversion

import (
	"github.com/nhcx/fhir-converter/internal/mapping"
	"github.com/nhcx/fhir-converter/internal/platform/hl7v2"
)

// PID field positions read by the converter. Field numbers follow the HL7
// dictionary (PID-3, PID-5, ...) and index directly into the tokenized
// segment.
const (
	pidFieldIdentifier = 3
	pidFieldName       = 5
	pidFieldBirthDate  = 7
	pidFieldGender     = 8
)

// PatientRecord holds the raw demographic values pulled out of a PID
// segment, trimmed but otherwise untransformed. A missing field is an empty
// string, never an error: sparse PID segments are valid input.
type PatientRecord struct {
	Identifier string
	FamilyName string
	GivenName  string
	BirthDate  string
	Gender     string
}

// ExtractPatient reads the fixed set of PID fields the converter maps.
// PID-5 is a composite: family name in the first component, given name in
// the second.
func ExtractPatient(pid *hl7v2.Segment) PatientRecord {
	return PatientRecord{
		Identifier: pid.Field(pidFieldIdentifier),
		FamilyName: pid.Component(pidFieldName, 0),
		GivenName:  pid.Component(pidFieldName, 1),
		BirthDate:  pid.Field(pidFieldBirthDate),
		Gender:     pid.Field(pidFieldGender),
	}
}

// Rules returns the extraction table in declaration order, in the shape
// the mapping profile is validated against. Component numbers are 1-based
// per HL7 convention (PID-5.1 is the family name).
func Rules() []mapping.Rule {
	return []mapping.Rule{
		{Segment: "PID", Field: pidFieldIdentifier, Target: "Patient.identifier"},
		{Segment: "PID", Field: pidFieldName, Component: 1, Target: "Patient.name.family"},
		{Segment: "PID", Field: pidFieldName, Component: 2, Target: "Patient.name.given"},
		{Segment: "PID", Field: pidFieldBirthDate, Target: "Patient.birthDate"},
		{Segment: "PID", Field: pidFieldGender, Target: "Patient.gender"},
	}
}

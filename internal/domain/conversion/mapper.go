package conversion

import (
	"strings"
	"time"

	"github.com/nhcx/fhir-converter/pkg/fhirmodels"
)

// FormatBirthDate converts an 8-digit HL7 date (YYYYMMDD) to the FHIR date
// form YYYY-MM-DD. Wrong length or an unparsable date (month 13, day 40)
// passes through unchanged, so a malformed value is preserved rather than
// guessed at. Empty stays empty.
func FormatBirthDate(raw string) string {
	if len(raw) != 8 {
		return raw
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02")
}

// MapGender maps the HL7 administrative sex code to the FHIR gender value
// set. The match is case-insensitive; unrecognized or absent codes map to
// "unknown" so the output document always carries a gender.
func MapGender(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return fhirmodels.GenderMale
	case "F":
		return fhirmodels.GenderFemale
	case "O":
		return fhirmodels.GenderOther
	default:
		return fhirmodels.GenderUnknown
	}
}

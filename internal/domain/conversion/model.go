package conversion

import (
	"time"

	"github.com/google/uuid"
)

// Record status values. Each conversion attempt lands in exactly one of
// these states.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Record maps to the conversion_records table. One row is written per
// conversion attempt; the unique hl7_hash index makes the first successful
// attempt for a payload the one all later identical submissions replay.
type Record struct {
	ID           uuid.UUID `db:"id" json:"id"`
	HL7Hash      string    `db:"hl7_hash" json:"hl7_hash"`
	RawHL7       string    `db:"raw_hl7" json:"raw_hl7"`
	FHIRJSON     *string   `db:"fhir_json" json:"fhir_json,omitempty"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Succeeded reports whether this record holds a replayable document.
func (r *Record) Succeeded() bool {
	return r.Status == StatusSuccess && r.FHIRJSON != nil
}

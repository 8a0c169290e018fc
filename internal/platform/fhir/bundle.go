package fhir

// The structs below define the exact wire form of the converter's output
// document. encoding/json serializes struct fields in declaration order, so
// field order here IS the key order downstream consumers see. Do not
// reorder fields, and do not switch any of these to maps.

// Bundle is a FHIR Bundle of type "collection" wrapping the converted
// resources.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry wraps a single resource. Bundles require each resource to sit
// inside {"resource": {...}}.
type BundleEntry struct {
	Resource interface{} `json:"resource"`
}

// Patient carries the demographics extracted from the PID segment.
// identifier and name are arrays even with a single element; absent values
// are omitted entirely, but gender is always present (normalized, "unknown"
// when the source carried nothing usable).
type Patient struct {
	ResourceType string       `json:"resourceType"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"`
	Gender       string       `json:"gender"`
}

// Coverage asserts the patient's active coverage with the paying
// organization.
type Coverage struct {
	ResourceType string      `json:"resourceType"`
	Status       string      `json:"status"`
	Beneficiary  Reference   `json:"beneficiary"`
	Payor        []Reference `json:"payor"`
}

// CoverageEligibilityRequest asks the insurer to validate the patient's
// coverage. Created is the build date in YYYY-MM-DD form.
type CoverageEligibilityRequest struct {
	ResourceType string    `json:"resourceType"`
	Status       string    `json:"status"`
	Purpose      []string  `json:"purpose"`
	Patient      Reference `json:"patient"`
	Created      string    `json:"created"`
	Insurer      Reference `json:"insurer"`
}

// NewCollectionBundle wraps the given resources into a collection Bundle,
// preserving their order.
func NewCollectionBundle(resources ...interface{}) *Bundle {
	entries := make([]BundleEntry, 0, len(resources))
	for _, r := range resources {
		entries = append(entries, BundleEntry{Resource: r})
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry:        entries,
	}
}

package fhirmodels

// Common FHIR value set constants used across the application.

// Identifier systems.
const (
	SystemABHA = "https://ndhm.gov.in/abha"
)

// Well-known resource references.
const (
	OrganizationNHCX = "NHCX"
)

// BundleType values per FHIR R4.
const (
	BundleTypeDocument    = "document"
	BundleTypeMessage     = "message"
	BundleTypeTransaction = "transaction"
	BundleTypeBatch       = "batch"
	BundleTypeCollection  = "collection"
	BundleTypeSearchset   = "searchset"
)

// CoverageStatus values per FHIR R4 fm-status.
const (
	CoverageStatusActive         = "active"
	CoverageStatusCancelled      = "cancelled"
	CoverageStatusDraft          = "draft"
	CoverageStatusEnteredInError = "entered-in-error"
)

// EligibilityRequestPurpose codes per FHIR R4.
const (
	EligibilityPurposeAuthRequirements = "auth-requirements"
	EligibilityPurposeBenefits         = "benefits"
	EligibilityPurposeDiscovery        = "discovery"
	EligibilityPurposeValidation       = "validation"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

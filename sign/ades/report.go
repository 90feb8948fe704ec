package ades

import (
	"time"

	"github.com/georgepadayatti/goasic/container"
)

// SignatureReport is the validation outcome of one signature.
type SignatureReport struct {
	ID                 string                 `json:"id"`
	SignatureFormat    string                 `json:"signatureFormat"`
	SignatureLevel     string                 `json:"signatureLevel,omitempty"`
	Indication         Indication             `json:"indication"`
	SubIndication      SubIndication          `json:"subIndication,omitempty"`
	SignedBy           string                 `json:"signedBy,omitempty"`
	CountryCode        string                 `json:"countryCode,omitempty"`
	ClaimedSigningTime *time.Time             `json:"claimedSigningTime,omitempty"`
	BestSignatureTime  *time.Time             `json:"bestSignatureTime,omitempty"`
	Scope              []container.ScopeEntry `json:"scope,omitempty"`
	Errors             []string               `json:"errors,omitempty"`
	Warnings           []string               `json:"warnings,omitempty"`
}

// AddError records an error on the signature.
func (r *SignatureReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning records a warning on the signature.
func (r *SignatureReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// TimestampReport is the validation outcome of one timestamp token.
type TimestampReport struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name,omitempty"`
	ProductionTime   *time.Time             `json:"productionTime,omitempty"`
	TimestampLevel   string                 `json:"timestampLevel"`
	LevelDescription string                 `json:"levelDescription"`
	Indication       Indication             `json:"indication"`
	SubIndication    SubIndication          `json:"subIndication,omitempty"`
	SignedBy         string                 `json:"signedBy,omitempty"`
	Scope            []container.ScopeEntry `json:"scope,omitempty"`
	Errors           []string               `json:"errors,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
}

// AddError records an error on the timestamp.
func (r *TimestampReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning records a warning on the timestamp.
func (r *TimestampReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// ValidationResult is the document level verdict of one validation call.
// Errors and warnings are kept in the order they were found.
type ValidationResult struct {
	ValidationTime    time.Time          `json:"validationTime"`
	ContainerType     container.Type     `json:"containerType,omitempty"`
	Valid             bool               `json:"valid"`
	Errors            []string           `json:"errors,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
	ContainerErrors   []string           `json:"containerErrors,omitempty"`
	ContainerWarnings []string           `json:"containerWarnings,omitempty"`
	SignatureReports  []*SignatureReport `json:"signatureReports,omitempty"`
	TimestampReports  []*TimestampReport `json:"timestampReports,omitempty"`
}

// NewValidationResult creates an empty result for the given reference time.
func NewValidationResult(at time.Time, t container.Type) *ValidationResult {
	return &ValidationResult{ValidationTime: at, ContainerType: t, Valid: true}
}

// AddError records a document level error.
func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// AddWarning records a document level warning.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddContainerError records a container level error.
func (r *ValidationResult) AddContainerError(msg string) {
	r.ContainerErrors = append(r.ContainerErrors, msg)
	r.Valid = false
}

// AddContainerWarning records a container level warning. Duplicate warnings
// are kept once.
func (r *ValidationResult) AddContainerWarning(msg string) {
	for _, w := range r.ContainerWarnings {
		if w == msg {
			return
		}
	}
	r.ContainerWarnings = append(r.ContainerWarnings, msg)
}

// AddSignatureReport appends a signature report.
func (r *ValidationResult) AddSignatureReport(report *SignatureReport) {
	r.SignatureReports = append(r.SignatureReports, report)
}

// AddTimestampReport appends a timestamp report.
func (r *ValidationResult) AddTimestampReport(report *TimestampReport) {
	r.TimestampReports = append(r.TimestampReports, report)
}

// IsValid reports whether no errors and no container errors were found.
// Warnings never affect validity.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0 && len(r.ContainerErrors) == 0
}

// Finalize recomputes Valid from the accumulated findings.
func (r *ValidationResult) Finalize() *ValidationResult {
	r.Valid = r.IsValid()
	return r
}

// SignatureReport returns the report for the signature with the given id.
func (r *ValidationResult) SignatureReport(id string) (*SignatureReport, bool) {
	for _, report := range r.SignatureReports {
		if report.ID == id {
			return report, true
		}
	}
	return nil, false
}

// ValidSignaturesCount returns the number of signatures that passed.
func (r *ValidationResult) ValidSignaturesCount() int {
	count := 0
	for _, report := range r.SignatureReports {
		if report.Indication.Passed() {
			count++
		}
	}
	return count
}

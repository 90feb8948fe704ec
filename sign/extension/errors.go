package extension

import (
	"errors"
	"fmt"
	"strings"

	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/validation"
)

// Errors
var (
	ErrTSPSourceRequired      = errors.New("The TSPSource cannot be null")
	ErrASiCSTSPSourceRequired = errors.New("TSP source cannot be null")
	ErrUnsupportedTransition  = errors.New("Not supported")
	ErrPreValidation          = errors.New("Validating the signature with DSS failed")
	ErrSignatureNotFound      = errors.New("signature not found in container")
	ErrSignedContainer        = errors.New("a signed container cannot be timestamped")
	ErrNotASiCS               = errors.New("only ASiC-S containers can be timestamped")
	ErrDataFileCount          = errors.New("Timestamped ASiC-S container must contain exactly one datafile")
)

// TransitionError reports a profile change that the transition table does
// not allow.
type TransitionError struct {
	From container.Profile
	To   container.Profile
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Not supported: It is not possible to extend %s signature to %s.", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrUnsupportedTransition
}

// ExpiredSignatureError reports a signing certificate that expired without
// proof of existence inside its validity range.
type ExpiredSignatureError struct {
	Cause *validation.ExpiredCertificateError
}

func (e *ExpiredSignatureError) Error() string {
	return fmt.Sprintf("Expired signature found. [%s: %s]", e.Cause.SignatureID, e.Cause.Error())
}

func (e *ExpiredSignatureError) Unwrap() error {
	return e.Cause
}

// PreValidationError reports a signature that failed the validation run
// before extension.
type PreValidationError struct {
	SignatureID string
	Err         error
}

func (e *PreValidationError) Error() string {
	return ErrPreValidation.Error()
}

func (e *PreValidationError) Unwrap() error {
	return e.Err
}

func (e *PreValidationError) Is(target error) bool {
	return target == ErrPreValidation
}

// EvidenceError reports a failure to obtain evidence from a source.
type EvidenceError struct {
	Source      string
	SignatureID string
	Err         error
}

func (e *EvidenceError) Error() string {
	if e.SignatureID == "" {
		return fmt.Sprintf("%s request failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s request for signature %s failed: %v", e.Source, e.SignatureID, e.Err)
}

func (e *EvidenceError) Unwrap() error {
	return e.Err
}

// ExtensionError reports why one signature could not be extended. Its
// message is the message of the cause.
type ExtensionError struct {
	SignatureID string
	From        container.Profile
	To          container.Profile
	Err         error
}

func (e *ExtensionError) Error() string {
	return e.Err.Error()
}

func (e *ExtensionError) Unwrap() error {
	return e.Err
}

// Errors collects the per-signature failures of one Extend call.
type Errors []*ExtensionError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e Errors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// BySignature returns the failure recorded for the signature with id.
func (e Errors) BySignature(id string) (*ExtensionError, bool) {
	for _, err := range e {
		if err.SignatureID == id {
			return err, true
		}
	}
	return nil, false
}

// BrokenTimestampError reports container timestamps that are not intact and
// therefore cannot be covered by a new timestamp.
type BrokenTimestampError struct {
	Broken []*validation.TimestampIntegrityError
}

func (e *BrokenTimestampError) Error() string {
	parts := make([]string, len(e.Broken))
	for i, b := range e.Broken {
		parts[i] = b.TimestampID + ": " + b.Reason
	}
	return "Broken timestamp(s) detected. [" + strings.Join(parts, ", ") + "]"
}

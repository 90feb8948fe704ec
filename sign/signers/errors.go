package signers

import "errors"

// Common errors
var (
	ErrTokenRequired        = errors.New("signature token is required")
	ErrNoSigningCertificate = errors.New("signature token has no signing certificate")
	ErrUnsupportedProfile   = errors.New("unsupported signature profile")
	ErrPolicyRequired       = errors.New("B_EPES signatures require a signature policy")
	ErrUnsupportedContainer = errors.New("only ASiC-S and ASiC-E containers can be signed")
	ErrNoDataFiles          = errors.New("container has no data files to sign")
	ErrTimestampedContainer = errors.New("ASiC-S container cannot contain signatures and timestamp tokens simultaneously")
	ErrASiCSDataFileCount   = errors.New("ASiC-S container cannot contain more than one datafile")
)

// SigningError represents an error during the signing process.
type SigningError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Cause
}

// NewSigningError creates a new SigningError.
func NewSigningError(message string, cause error) *SigningError {
	return &SigningError{
		Message: message,
		Cause:   cause,
	}
}

package validation

import (
	"errors"
	"fmt"
	"time"
)

// Container level findings.
const (
	msgManifestMimeTypeMismatch = "Manifest file has an entry for file <%s> with mimetype <%s> but the signature file for signature %s indicates the mimetype is <%s>"
	MsgNoManifest               = "Unsupported format: Container does not contain a manifest file"
)

// Trust findings on timestamps.
const (
	MsgTrustServiceTypeIdentifier = "The trust service(s) related to the time-stamp does not have the expected type identifier!"
	MsgNotRelatedToTSA            = "The certificate is not related to a TSA/QTST!"
	MsgNotGrantedAtPOE            = "The certificate is not related to a granted status at time-stamp lowest POE time!"
	MsgTimestampNotGranted        = "Found a timestamp token not related to granted status. If not yet covered with a fresh timestamp token, this container might become invalid in the future."
	MsgTimestampDoesNotCover      = "The time-stamp token does not cover container datafile!"
)

// Timestamp integrity findings.
const (
	MsgTimestampNotParseable        = "The time-stamp token could not be parsed!"
	MsgTimestampSignatureNotIntact  = "Signature is not intact!"
	MsgTimestampImprintNotIntact    = "The time-stamp message imprint is not intact!"
	MsgTimestampReferenceNotIntact  = "The reference data object is not intact!"
	MsgTimestampReferenceNotFound   = "The reference data object is not found!"
	MsgTimestampManifestNotParsable = "The time-stamp manifest could not be parsed!"
)

// Signature findings.
const (
	MsgSignatureCryptoFailure  = "Cryptographic signature verification has failed / Signature verification failed against the best candidate."
	MsgSignedDataNotFound      = "The signed data object is not found!"
	MsgSignerCertNotFound      = "The signing certificate is not found!"
	MsgNoCertificateChain      = "Unable to build a certificate chain up to a trusted list!"
	MsgInvalidTimestamp        = "Signature has an invalid timestamp"
	MsgInvalidArchiveTimestamp = "Signature has an invalid archive timestamp"
	MsgNoRevocationData        = "No revocation data found for the certificate!"
	MsgCertificateRevoked      = "The certificate is revoked!"
	MsgRevocationNotVerified   = "The revocation data could not be verified!"
	MsgOCSPTooLate             = "The difference between the OCSP response time and the signature timestamp is too large"
	msgOCSPNotFresh            = "The time difference between the signature timestamp and the OCSP response exceeds %d minutes, rendering the OCSP response not 'fresh'."
	msgExpiredNoPOE            = "The signing certificate has expired and there is no POE during its validity range : [%s - %s]!"
)

// ManifestMimeTypeMismatch formats the container error for a data file whose
// manifest mimetype differs from the one the signature declares.
func ManifestMimeTypeMismatch(name, manifestMimeType, signatureID, signatureMimeType string) string {
	return fmt.Sprintf(msgManifestMimeTypeMismatch, name, manifestMimeType, signatureID, signatureMimeType)
}

// OCSPNotFresh formats the OCSP freshness warning for the given threshold.
func OCSPNotFresh(threshold time.Duration) string {
	return fmt.Sprintf(msgOCSPNotFresh, int(threshold.Minutes()))
}

// Errors
var (
	ErrSignatureCryptoFailure = errors.New(MsgSignatureCryptoFailure)
	ErrSignedDataNotFound     = errors.New(MsgSignedDataNotFound)
	ErrSignerCertNotFound     = errors.New(MsgSignerCertNotFound)
)

// ReferenceError reports a signed data file whose digest does not match or
// that is missing from the container.
type ReferenceError struct {
	URI string
	Err error
}

func (e *ReferenceError) Error() string {
	return e.Err.Error()
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// TimestampIntegrityError reports a timestamp token that is not intact.
type TimestampIntegrityError struct {
	TimestampID string
	Reason      string
	Err         error
}

func (e *TimestampIntegrityError) Error() string {
	return e.Reason
}

func (e *TimestampIntegrityError) Unwrap() error {
	return e.Err
}

// ExpiredCertificateError reports a signing certificate that expired before
// the validation time without a proof of existence inside its validity range.
type ExpiredCertificateError struct {
	SignatureID string
	NotBefore   time.Time
	NotAfter    time.Time
}

func (e *ExpiredCertificateError) Error() string {
	return fmt.Sprintf(msgExpiredNoPOE,
		e.NotBefore.UTC().Format(time.RFC3339), e.NotAfter.UTC().Format(time.RFC3339))
}

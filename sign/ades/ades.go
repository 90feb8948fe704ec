// Package ades holds the validation result model for AdES signatures and
// timestamps in signature containers. Indication values follow
// ETSI EN 319 102-1.
package ades

// Indication is the outcome of validating a signature or a timestamp.
type Indication string

// Validation Indication values per ETSI EN 319 102-1
const (
	IndicationPassed        Indication = "PASSED"
	IndicationFailed        Indication = "FAILED"
	IndicationIndeterminate Indication = "INDETERMINATE"

	// Signature level conclusions.
	IndicationTotalPassed Indication = "TOTAL_PASSED"
	IndicationTotalFailed Indication = "TOTAL_FAILED"
)

// SubIndication refines a FAILED or INDETERMINATE indication.
type SubIndication string

// Sub-indication values per ETSI EN 319 102-1
const (
	// FAILED sub-indications
	SubIndicationFormatFailure           SubIndication = "FORMAT_FAILURE"
	SubIndicationHashFailure             SubIndication = "HASH_FAILURE"
	SubIndicationSigConstraintsFailure   SubIndication = "SIG_CONSTRAINTS_FAILURE"
	SubIndicationChainConstraintsFailure SubIndication = "CHAIN_CONSTRAINTS_FAILURE"
	SubIndicationExpiredNoPoE            SubIndication = "EXPIRED_NO_POE"
	SubIndicationRevokedNoPoE            SubIndication = "REVOKED_NO_POE"

	// INDETERMINATE sub-indications
	SubIndicationSigCryptoFailure        SubIndication = "SIG_CRYPTO_FAILURE"
	SubIndicationRevoked                 SubIndication = "REVOKED"
	SubIndicationSignedDataNotFound      SubIndication = "SIGNED_DATA_NOT_FOUND"
	SubIndicationNoValidTimestamp        SubIndication = "NO_VALID_TIMESTAMP"
	SubIndicationTimestampOrderFailure   SubIndication = "TIMESTAMP_ORDER_FAILURE"
	SubIndicationNoCertificateChainFound SubIndication = "NO_CERTIFICATE_CHAIN_FOUND"
	SubIndicationOutOfBoundsNoPoE        SubIndication = "OUT_OF_BOUNDS_NO_POE"
	SubIndicationNoSignerCertFound       SubIndication = "NO_SIGNER_CERT_FOUND"
	SubIndicationTryLater                SubIndication = "TRY_LATER"
	SubIndicationGenericNoPoE            SubIndication = "GENERIC_NO_POE"
)

// Passed reports whether the indication is a passing one.
func (i Indication) Passed() bool {
	return i == IndicationPassed || i == IndicationTotalPassed
}

// Failed reports whether the indication is a failing one.
func (i Indication) Failed() bool {
	return i == IndicationFailed || i == IndicationTotalFailed
}

// Timestamp levels.
const (
	LevelQTSA    = "QTSA"
	LevelTSA     = "TSA"
	LevelUnknown = "UNKNOWN"
)

// LevelDescription returns the human readable description of a timestamp level.
func LevelDescription(level string) string {
	if level == LevelQTSA {
		return "Qualified timestamp"
	}
	return "Not qualified timestamp"
}

package validation

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/ades"
	"github.com/georgepadayatti/goasic/sign/cms"
)

// ContentFunc returns the bytes of a container entry by name.
type ContentFunc func(name string) ([]byte, bool)

// LevelContent resolves data files and container timestamp tokens of one
// container level.
func LevelContent(c container.Container) ContentFunc {
	return func(name string) ([]byte, bool) {
		for _, df := range c.DataFiles() {
			if df.Name == name {
				return df.Content(), true
			}
		}
		for _, ts := range c.Timestamps() {
			if ts.Name == name {
				return bytes.Clone(ts.Token), true
			}
			if ts.ManifestName == name {
				return bytes.Clone(ts.Manifest), true
			}
		}
		return nil, false
	}
}

// VerifySignature checks the signature value over the signed info and the
// digest of every referenced data file.
func VerifySignature(sig *container.Signature, content ContentFunc) error {
	if sig.SigningCertificate == nil {
		return ErrSignerCertNotFound
	}
	h := sig.DigestAlgorithm()
	digest := h.New()
	digest.Write(sig.SignedInfo())
	if err := cms.VerifyDigestSignature(sig.SigningCertificate.PublicKey, h, digest.Sum(nil), sig.SignatureValue); err != nil {
		return ErrSignatureCryptoFailure
	}

	for _, ref := range sig.References {
		data, ok := content(ref.URI)
		if !ok {
			return &ReferenceError{URI: ref.URI, Err: ErrSignedDataNotFound}
		}
		if !ref.DigestAlgorithm.Available() {
			return &ReferenceError{URI: ref.URI, Err: ErrSignatureCryptoFailure}
		}
		rh := ref.DigestAlgorithm.New()
		rh.Write(data)
		if !bytes.Equal(rh.Sum(nil), ref.Digest) {
			return &ReferenceError{URI: ref.URI, Err: ErrSignatureCryptoFailure}
		}
	}
	return nil
}

// VerifyTimestamp checks that ts is parseable, carries an intact CMS
// signature and that its message imprint covers data.
func VerifyTimestamp(ts *container.Timestamp, data []byte) error {
	if err := verifyToken(ts); err != nil {
		return err
	}
	if err := ts.Parsed.VerifyImprint(data); err != nil {
		return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampImprintNotIntact, Err: err}
	}
	return nil
}

func verifyToken(ts *container.Timestamp) error {
	if ts.Parsed == nil {
		return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampNotParseable, Err: ts.ParseError}
	}
	if err := ts.Parsed.VerifySignature(); err != nil {
		return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampSignatureNotIntact, Err: err}
	}
	return nil
}

// VerifyContainerTimestamp checks an ASiC-S container timestamp. A token
// over an archive manifest must cover the manifest, and every reference of
// the manifest must match the current entry content. Any other token must
// cover the data file named by its scope.
func VerifyContainerTimestamp(ts *container.Timestamp, content ContentFunc) error {
	if ts.ManifestName == "" {
		if len(ts.Scope) == 0 {
			return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampReferenceNotFound}
		}
		data, ok := content(ts.Scope[0].Name)
		if !ok {
			return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampReferenceNotFound}
		}
		return VerifyTimestamp(ts, data)
	}

	if err := VerifyTimestamp(ts, ts.Manifest); err != nil {
		return err
	}
	am, err := asic.ParseArchiveManifest(ts.Manifest)
	if err != nil {
		return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampManifestNotParsable, Err: err}
	}
	for _, ref := range am.References {
		data, ok := content(ref.URI)
		if !ok {
			return &TimestampIntegrityError{TimestampID: ts.ID, Reason: MsgTimestampReferenceNotFound}
		}
		if !ref.Matches(data) {
			return &TimestampIntegrityError{
				TimestampID: ts.ID,
				Reason:      MsgTimestampReferenceNotIntact,
				Err:         fmt.Errorf("digest of %s does not match", ref.URI),
			}
		}
	}
	return nil
}

// SignatureTimestampPOE returns the production time of the signature
// timestamp when it is intact.
func SignatureTimestampPOE(sig *container.Signature) (time.Time, bool) {
	ts := sig.Evidence().SignatureTimestamp()
	if ts == nil {
		return time.Time{}, false
	}
	if err := VerifyTimestamp(ts, sig.SignatureTimestampInput()); err != nil {
		return time.Time{}, false
	}
	return ts.ProductionTime(), true
}

// CheckSigningCertificateExpiry fails when the signing certificate expired
// before at and no intact signature timestamp proves the signature existed
// inside the certificate validity range.
func CheckSigningCertificateExpiry(sig *container.Signature, at time.Time) error {
	cert := sig.SigningCertificate
	if cert == nil {
		return ErrSignerCertNotFound
	}
	if !at.After(cert.NotAfter) {
		return nil
	}
	if poe, ok := SignatureTimestampPOE(sig); ok && !poe.Before(cert.NotBefore) && !poe.After(cert.NotAfter) {
		return nil
	}
	return &ExpiredCertificateError{SignatureID: sig.ID, NotBefore: cert.NotBefore, NotAfter: cert.NotAfter}
}

// signatureFailure maps a VerifySignature error to the signature indication.
func signatureFailure(err error) (ades.Indication, ades.SubIndication) {
	var refErr *ReferenceError
	switch {
	case errors.Is(err, ErrSignerCertNotFound):
		return ades.IndicationIndeterminate, ades.SubIndicationNoSignerCertFound
	case errors.Is(err, ErrSignedDataNotFound):
		return ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound
	case errors.As(err, &refErr):
		return ades.IndicationTotalFailed, ades.SubIndicationHashFailure
	default:
		return ades.IndicationTotalFailed, ades.SubIndicationSigCryptoFailure
	}
}

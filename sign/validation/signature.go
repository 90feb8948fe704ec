package validation

import (
	"crypto/x509"
	"errors"
	"slices"
	"time"

	"github.com/georgepadayatti/goasic/certvalidator"
	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/ades"
)

// signatureCheck accumulates the findings of one signature into its report
// and into the document result. A message is recorded once per signature.
type signatureCheck struct {
	report *ades.SignatureReport
	result *ades.ValidationResult
}

func (c *signatureCheck) addError(msg string) {
	if slices.Contains(c.report.Errors, msg) {
		return
	}
	c.report.AddError(msg)
	c.result.AddError(msg)
}

func (c *signatureCheck) addWarning(msg string) {
	if slices.Contains(c.report.Warnings, msg) {
		return
	}
	c.report.AddWarning(msg)
	c.result.AddWarning(msg)
}

// downgrade lowers the indication. TOTAL_FAILED is never raised back to
// INDETERMINATE, and the first sub-indication of a level is kept.
func (c *signatureCheck) downgrade(ind ades.Indication, sub ades.SubIndication) {
	switch c.report.Indication {
	case ades.IndicationTotalFailed:
		return
	case ades.IndicationIndeterminate:
		if ind != ades.IndicationTotalFailed {
			return
		}
	}
	c.report.Indication = ind
	c.report.SubIndication = sub
}

// absorbTimestamp copies the findings of a signature or archive timestamp.
func (c *signatureCheck) absorbTimestamp(report *ades.TimestampReport, withdrawn bool) {
	for _, msg := range report.Errors {
		c.addError(msg)
	}
	for _, msg := range report.Warnings {
		c.addWarning(msg)
	}
	if withdrawn {
		c.result.AddContainerWarning(MsgTimestampNotGranted)
	}
}

func signatureScope(sig *container.Signature) []container.ScopeEntry {
	scope := make([]container.ScopeEntry, 0, len(sig.References))
	for _, name := range sig.CoveredDataFiles() {
		scope = append(scope, container.ScopeEntry{
			Name:        name,
			Coverage:    container.CoverageFullDocument,
			Description: container.DescriptionFullDocument,
		})
	}
	return scope
}

// validateSignature runs the signature state machine. The signature value
// and data file digests are checked first; a failure there ends the
// evaluation. Timestamps, certificate expiry, the certificate chain and
// revocation data are then evaluated independently and each may lower the
// indication.
func (v *Validator) validateSignature(sig *container.Signature, content ContentFunc, at time.Time, anchors []*x509.Certificate, result *ades.ValidationResult) *ades.SignatureReport {
	profile := sig.Profile()
	report := &ades.SignatureReport{
		ID:              sig.ID,
		SignatureFormat: profile.Format(),
		SignatureLevel:  string(profile),
		Indication:      ades.IndicationTotalPassed,
		Scope:           signatureScope(sig),
	}
	if !sig.SigningTime.IsZero() {
		claimed := sig.SigningTime.UTC()
		report.ClaimedSigningTime = &claimed
	}
	if cert := sig.SigningCertificate; cert != nil {
		report.SignedBy = cert.Subject.CommonName
		if len(cert.Subject.Country) > 0 {
			report.CountryCode = cert.Subject.Country[0]
		}
	}
	check := &signatureCheck{report: report, result: result}

	if err := VerifySignature(sig, content); err != nil {
		check.downgrade(signatureFailure(err))
		check.addError(err.Error())
		v.Settings.Logger.Debug("signature verification failed", "id", sig.ID, "error", err)
		return report
	}

	ev := sig.Evidence()
	best := at
	sigTS := ev.SignatureTimestamp()
	sigTSPassed := false
	if sigTS != nil {
		tsReport, withdrawn := v.evaluateTimestamp(sigTS, func() error {
			return VerifyTimestamp(sigTS, sig.SignatureTimestampInput())
		})
		check.absorbTimestamp(tsReport, withdrawn)
		if tsReport.Indication.Passed() {
			sigTSPassed = true
			best = sigTS.ProductionTime()
		} else {
			check.downgrade(ades.IndicationIndeterminate, timestampSubIndication(tsReport))
			check.addError(MsgInvalidTimestamp)
		}
	}

	var expired *ExpiredCertificateError
	if err := CheckSigningCertificateExpiry(sig, at); errors.As(err, &expired) {
		check.downgrade(ades.IndicationIndeterminate, ades.SubIndicationOutOfBoundsNoPoE)
		check.addError(err.Error())
	}

	chain := v.checkChain(check, sig, anchors, best)

	if profile == container.ProfileLT || profile == container.ProfileLTA {
		issuer := chain.Issuer()
		if issuer == nil {
			issuer = sig.IssuerCertificate()
		}
		v.checkRevocation(check, sig, issuer, ev, best, sigTSPassed)
	}

	for i, ts := range ev.ArchiveTimestamps() {
		input := sig.ArchiveTimestampInput(ev, i)
		tsReport, withdrawn := v.evaluateTimestamp(ts, func() error {
			return VerifyTimestamp(ts, input)
		})
		check.absorbTimestamp(tsReport, withdrawn)
		if tsReport.Indication.Passed() {
			continue
		}
		check.downgrade(ades.IndicationIndeterminate, timestampSubIndication(tsReport))
		if tsReport.Indication.Failed() {
			check.addError(MsgInvalidArchiveTimestamp)
		}
	}

	if sigTSPassed {
		report.BestSignatureTime = &best
	}
	v.Settings.Logger.Debug("signature evaluated",
		"id", sig.ID, "profile", profile, "indication", report.Indication)
	return report
}

// checkChain builds the certification path of the signing certificate up to
// a trust anchor. The path is built inside the validity range of the signing
// certificate; expiry is judged by CheckSigningCertificateExpiry. It returns
// nil when no path exists.
func (v *Validator) checkChain(check *signatureCheck, sig *container.Signature, anchors []*x509.Certificate, best time.Time) *certvalidator.ValidationResult {
	cert := sig.SigningCertificate
	at := best
	if at.After(cert.NotAfter) {
		at = cert.NotAfter
	}
	if at.Before(cert.NotBefore) {
		at = cert.NotBefore
	}

	ctx := certvalidator.NewValidationContext(anchors)
	ctx.SetValidationTime(at)
	ctx.AddIntermediateCert(sig.CertificateChain...)
	chain, err := certvalidator.NewCertificateValidator(ctx).Validate(cert)
	if err != nil {
		check.downgrade(ades.IndicationIndeterminate, ades.SubIndicationNoCertificateChainFound)
		check.addError(MsgNoCertificateChain)
		v.Settings.Logger.Debug("no certificate chain", "id", sig.ID, "error", err)
		return nil
	}
	return chain
}

// checkRevocation evaluates the latest embedded OCSP response of an LT or
// LTA signature against the issuer of the signing certificate.
func (v *Validator) checkRevocation(check *signatureCheck, sig *container.Signature, issuer *x509.Certificate, ev container.Evidence, best time.Time, sigTSPassed bool) {
	token := ev.LatestOCSP()
	if token == nil {
		check.downgrade(ades.IndicationIndeterminate, ades.SubIndicationTryLater)
		check.addError(MsgNoRevocationData)
		return
	}

	_, err := token.CheckCertificate(sig.SigningCertificate, issuer)
	switch {
	case errors.Is(err, revinfo.ErrRevoked):
		revokedAt := token.Response.RevokedAt
		if !sigTSPassed || !revokedAt.After(best) {
			check.downgrade(ades.IndicationTotalFailed, ades.SubIndicationRevokedNoPoE)
			check.addError(MsgCertificateRevoked)
			return
		}
	case err != nil:
		check.downgrade(ades.IndicationIndeterminate, ades.SubIndicationTryLater)
		check.addError(MsgRevocationNotVerified)
		return
	}

	sigTS := ev.SignatureTimestamp()
	if sigTS == nil || !v.strictTerritory(check.report.CountryCode) {
		return
	}
	switch revinfo.CheckFreshness(token.ResponseTime(), sigTS.ProductionTime(), v.Settings.OCSPWarnDelta, v.Settings.OCSPErrorDelta) {
	case revinfo.NotFresh:
		check.addWarning(OCSPNotFresh(v.Settings.OCSPWarnDelta))
	case revinfo.TooLate:
		check.addWarning(OCSPNotFresh(v.Settings.OCSPWarnDelta))
		check.downgrade(ades.IndicationIndeterminate, ades.SubIndicationTryLater)
		check.addError(MsgOCSPTooLate)
	}
}

func (v *Validator) strictTerritory(country string) bool {
	return country != "" && slices.Contains(v.Settings.StrictTerritories, country)
}

func timestampSubIndication(report *ades.TimestampReport) ades.SubIndication {
	if report.Indication == ades.IndicationIndeterminate && report.SubIndication != "" {
		return report.SubIndication
	}
	return ades.SubIndicationNoValidTimestamp
}

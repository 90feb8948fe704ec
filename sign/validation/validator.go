// Package validation validates signature containers. It checks manifest
// consistency, evaluates every signature and timestamp into an indication,
// and merges the reports of nested containers innermost first into one
// ades.ValidationResult.
package validation

import (
	"context"
	"crypto/x509"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/ades"
	"github.com/georgepadayatti/goasic/sign/validation/qualified"
)

// ErrNilContainer is returned when Validate is called without a container.
var ErrNilContainer = errors.New("container is nil")

// ValidatorSettings configures a Validator.
type ValidatorSettings struct {
	// Clock provides the reference time of Validate. ValidateAt ignores it.
	Clock clockwork.Clock

	// Classifier assigns trust levels to timestamp authorities. A nil
	// classifier treats every authority as unknown.
	Classifier *qualified.Classifier

	// OCSPWarnDelta is the delay after the signature timestamp from which an
	// OCSP response is no longer fresh.
	OCSPWarnDelta time.Duration

	// OCSPErrorDelta is the delay after the signature timestamp from which an
	// OCSP response is rejected.
	OCSPErrorDelta time.Duration

	// StrictTerritories lists the signer countries the OCSP freshness
	// checks apply to.
	StrictTerritories []string

	// TrustAnchors are trusted in addition to the certificate issuing
	// services of the classifier registry. A signing certificate must chain
	// up to one of them.
	TrustAnchors []*x509.Certificate

	Logger *slog.Logger
}

// DefaultValidatorSettings returns settings with a real clock, an empty
// trust registry, the 15 minute and 24 hour OCSP thresholds and EE as the
// only strict territory.
func DefaultValidatorSettings() *ValidatorSettings {
	return &ValidatorSettings{
		Clock:             clockwork.NewRealClock(),
		Classifier:        qualified.NewClassifier(nil),
		OCSPWarnDelta:     15 * time.Minute,
		OCSPErrorDelta:    24 * time.Hour,
		StrictTerritories: []string{"EE"},
		Logger:            slog.Default(),
	}
}

// Validator validates containers. It holds no per-call state and can be
// shared between goroutines.
type Validator struct {
	Settings *ValidatorSettings
}

// NewValidator creates a validator. Unset fields of settings take their
// default values.
func NewValidator(settings *ValidatorSettings) *Validator {
	defaults := DefaultValidatorSettings()
	if settings == nil {
		return &Validator{Settings: defaults}
	}
	s := *settings
	if s.Clock == nil {
		s.Clock = defaults.Clock
	}
	if s.Classifier == nil {
		s.Classifier = defaults.Classifier
	}
	if s.OCSPWarnDelta == 0 {
		s.OCSPWarnDelta = defaults.OCSPWarnDelta
	}
	if s.OCSPErrorDelta == 0 {
		s.OCSPErrorDelta = defaults.OCSPErrorDelta
	}
	if s.StrictTerritories == nil {
		s.StrictTerritories = defaults.StrictTerritories
	}
	if s.Logger == nil {
		s.Logger = defaults.Logger
	}
	return &Validator{Settings: &s}
}

// Validate validates c at the current time of the configured clock.
func (v *Validator) Validate(ctx context.Context, c container.Container) (*ades.ValidationResult, error) {
	return v.ValidateAt(ctx, c, v.Settings.Clock.Now())
}

// ValidateAt validates c with at as the reference time. Findings never abort
// validation; the error return is reserved for a nil or too deeply nested
// container and for a cancelled context.
func (v *Validator) ValidateAt(ctx context.Context, c container.Container, at time.Time) (*ades.ValidationResult, error) {
	if c == nil {
		return nil, ErrNilContainer
	}
	at = at.UTC()
	result := ades.NewValidationResult(at, c.Type())
	anchors := v.trustAnchors()
	err := container.Walk(c, func(level container.Level) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.validateLevel(level, at, anchors, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Finalize(), nil
}

// trustAnchors returns the configured anchors followed by the certificate
// issuing services currently in the registry.
func (v *Validator) trustAnchors() []*x509.Certificate {
	anchors := slices.Clone(v.Settings.TrustAnchors)
	return append(anchors, v.Settings.Classifier.Registry.TrustAnchors()...)
}

func (v *Validator) validateLevel(level container.Level, at time.Time, anchors []*x509.Certificate, result *ades.ValidationResult) {
	c := level.Container
	if c.Type() == container.TypeDDOC {
		v.Settings.Logger.Debug("legacy DDOC level is not reported",
			"depth", level.Depth, "signatures", len(c.Signatures()))
		return
	}

	checkManifest(c, result)
	v.validateContainerTimestamps(c, result)

	content := LevelContent(c)
	for _, sig := range c.Signatures() {
		result.AddSignatureReport(v.validateSignature(sig, content, at, anchors, result))
	}
}

// simpleLevel returns the container holding the entries of one level.
func simpleLevel(c container.Container) *container.Simple {
	switch lc := c.(type) {
	case *container.Simple:
		return lc
	case *container.Composite:
		return lc.Outer()
	}
	return nil
}

// checkManifest compares the mimetypes declared by manifest.xml with the
// ones declared inside each signature.
func checkManifest(c container.Container, result *ades.ValidationResult) {
	sigs := c.Signatures()
	level := simpleLevel(c)
	if len(sigs) == 0 || level == nil {
		return
	}
	m := level.Manifest()
	if m == nil {
		if c.Type() == container.TypeASiCE {
			result.AddContainerError(MsgNoManifest)
		}
		return
	}
	for _, sig := range sigs {
		for _, ref := range sig.References {
			entry, ok := m.Lookup(ref.URI)
			if !ok || ref.MimeType == "" {
				continue
			}
			if entry.MimeType != ref.MimeType {
				result.AddContainerError(ManifestMimeTypeMismatch(ref.URI, entry.MimeType, sig.ID, ref.MimeType))
			}
		}
	}
}

// validateContainerTimestamps evaluates the timestamp chain of one level.
// Findings of a chain in which some token passed are reported as warnings.
func (v *Validator) validateContainerTimestamps(c container.Container, result *ades.ValidationResult) {
	tss := c.Timestamps()
	if len(tss) == 0 {
		return
	}
	content := LevelContent(c)
	var dataFile string
	if dfs := c.DataFiles(); len(dfs) > 0 {
		dataFile = dfs[0].Name
	}

	reports := make([]*ades.TimestampReport, 0, len(tss))
	passed := false
	for _, ts := range tss {
		report, withdrawn := v.evaluateTimestamp(ts, func() error {
			return VerifyContainerTimestamp(ts, content)
		})
		if dataFile != "" && !ts.Covers(dataFile) {
			report.AddWarning(MsgTimestampDoesNotCover)
		}
		if withdrawn {
			result.AddContainerWarning(MsgTimestampNotGranted)
		}
		passed = passed || report.Indication.Passed()
		reports = append(reports, report)
	}

	for _, report := range reports {
		for _, msg := range report.Errors {
			if passed {
				result.AddWarning(msg)
			} else {
				result.AddError(msg)
			}
		}
		for _, msg := range report.Warnings {
			result.AddWarning(msg)
		}
		result.AddTimestampReport(report)
	}
}

// evaluateTimestamp runs the timestamp state machine: integrity first, then
// the trust level of the authority at the production time of the token. The
// second return value is true when the authority was withdrawn before then.
func (v *Validator) evaluateTimestamp(ts *container.Timestamp, verify func() error) (*ades.TimestampReport, bool) {
	report := &ades.TimestampReport{
		ID:             ts.ID,
		Name:           ts.Name,
		TimestampLevel: ades.LevelUnknown,
		Scope:          slices.Clone(ts.Scope),
	}
	if ts.Parsed != nil {
		pt := ts.ProductionTime()
		report.ProductionTime = &pt
	}

	// Verification resolves the signer certificate of tokens that do not
	// embed it, so the authority is classified afterwards.
	err := verify()
	var assessment qualified.Assessment
	if cert := ts.TSACertificate(); cert != nil {
		report.SignedBy = cert.Subject.CommonName
		assessment = v.Settings.Classifier.ClassifyTSA(cert, ts.ProductionTime())
		report.TimestampLevel = string(assessment.Qualification)
	}
	report.LevelDescription = ades.LevelDescription(report.TimestampLevel)
	if err != nil {
		report.Indication, report.SubIndication = timestampFailure(err)
		report.AddError(err.Error())
		v.Settings.Logger.Debug("timestamp is not intact", "id", ts.ID, "error", err)
		return report, false
	}

	withdrawn := false
	switch {
	case assessment.Qualification.Qualified():
		report.Indication = ades.IndicationPassed
	case assessment.Withdrawn:
		report.Indication = ades.IndicationPassed
		report.AddWarning(MsgNotGrantedAtPOE)
		withdrawn = true
	default:
		report.Indication = ades.IndicationIndeterminate
		report.SubIndication = ades.SubIndicationNoCertificateChainFound
		report.AddError(MsgTrustServiceTypeIdentifier)
		report.AddError(MsgNotRelatedToTSA)
	}
	v.Settings.Logger.Debug("timestamp evaluated",
		"id", ts.ID, "level", report.TimestampLevel, "indication", report.Indication)
	return report, withdrawn
}

// timestampFailure maps an integrity error to the timestamp indication.
func timestampFailure(err error) (ades.Indication, ades.SubIndication) {
	var tsErr *TimestampIntegrityError
	if !errors.As(err, &tsErr) {
		return ades.IndicationFailed, ades.SubIndicationFormatFailure
	}
	switch tsErr.Reason {
	case MsgTimestampSignatureNotIntact:
		return ades.IndicationFailed, ades.SubIndicationSigCryptoFailure
	case MsgTimestampImprintNotIntact, MsgTimestampReferenceNotIntact:
		return ades.IndicationFailed, ades.SubIndicationHashFailure
	case MsgTimestampReferenceNotFound:
		return ades.IndicationIndeterminate, ades.SubIndicationSignedDataNotFound
	default:
		return ades.IndicationFailed, ades.SubIndicationFormatFailure
	}
}

// Package extension raises signatures to higher baseline profiles by
// embedding signature timestamps, revocation data and archive timestamps,
// and adds container timestamps to ASiC-S containers.
package extension

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/timestamps"
	"github.com/georgepadayatti/goasic/sign/validation"
)

// Evidence source names used in EvidenceError.
const (
	SourceSignatureTSP = "signature TSP"
	SourceArchiveTSP   = "archive TSP"
	SourceOCSP         = "OCSP"
)

// transitions lists the allowed targets of every extendable profile.
var transitions = map[container.Profile][]container.Profile{
	container.ProfileBBES: {container.ProfileT, container.ProfileLT, container.ProfileLTA},
	container.ProfileT:    {container.ProfileLT, container.ProfileLTA},
	container.ProfileLT:   {container.ProfileLTA},
	container.ProfileLTA:  {container.ProfileLTA},
}

// CanExtend reports whether a signature at from may be extended to to.
func CanExtend(from, to container.Profile) bool {
	return slices.Contains(transitions[from], to)
}

// CheckTransition returns a *TransitionError when from cannot be extended
// to to.
func CheckTransition(from, to container.Profile) error {
	if !CanExtend(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Option configures an Extender or a Timestamper.
type Option func(*options)

type options struct {
	clock           clockwork.Clock
	logger          *slog.Logger
	digestAlgorithm crypto.Hash
	issuers         []*x509.Certificate
}

func newOptions(opts []Option) options {
	o := options{
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
		digestAlgorithm: crypto.SHA256,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used for pre-validation.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDigestAlgorithm sets the message imprint algorithm of requested
// timestamps.
func WithDigestAlgorithm(h crypto.Hash) Option {
	return func(o *options) { o.digestAlgorithm = h }
}

// WithIssuers adds certificates used to find the issuer of a signing
// certificate whose signature does not embed it.
func WithIssuers(certs ...*x509.Certificate) Option {
	return func(o *options) { o.issuers = append(o.issuers, certs...) }
}

// issuerOf returns the issuer of the signing certificate of sig, looking in
// the embedded chain first.
func (o options) issuerOf(sig *container.Signature) *x509.Certificate {
	if issuer := sig.IssuerCertificate(); issuer != nil {
		return issuer
	}
	leaf := sig.SigningCertificate
	if leaf == nil {
		return nil
	}
	for _, cert := range o.issuers {
		if bytes.Equal(cert.RawSubject, leaf.RawIssuer) && leaf.CheckSignatureFrom(cert) == nil {
			return cert
		}
	}
	return nil
}

// Extender extends signatures of a container. Sources may be replaced
// between calls; each call resolves them once.
type Extender struct {
	Sources Sources
	options
}

// NewExtender creates an extender over sources.
func NewExtender(sources Sources, opts ...Option) *Extender {
	return &Extender{Sources: sources, options: newOptions(opts)}
}

// Timestamper returns a container timestamper that uses the archive TSP
// source of e.
func (e *Extender) Timestamper() *Timestamper {
	return &Timestamper{Source: e.Sources.ArchiveTSP, options: e.options}
}

// plan is the list of steps that raise one signature to the target profile.
type plan struct {
	sig     *container.Signature
	from    container.Profile
	addT    bool
	addLT   bool
	addLTA  bool
	skipped bool
}

func newPlan(sig *container.Signature, target container.Profile) plan {
	from := sig.Profile()
	return plan{
		sig:    sig,
		from:   from,
		addT:   !from.HasSignatureTimestamp(),
		addLT:  !from.HasRevocationData() && target != container.ProfileT,
		addLTA: target == container.ProfileLTA,
	}
}

// Check reports, per signature id, why the selected signatures cannot be
// extended to target. An empty map means every selected signature can be
// extended with the evidence sources currently configured. Check never
// modifies the container.
func (e *Extender) Check(c container.Container, target container.Profile, selection ...string) map[string]error {
	failures := make(map[string]error)
	sigs, err := selectSignatures(c, selection)
	if err != nil {
		for _, id := range selection {
			failures[id] = err
		}
		return failures
	}
	sources := e.Sources.resolve()
	content := validation.LevelContent(c)
	for _, sig := range sigs {
		p := newPlan(sig, target)
		if err := e.checkPlan(p, target, sources, content); err != nil {
			failures[sig.ID] = err
		}
	}
	return failures
}

// Extend raises the selected signatures of c, or all of them when selection
// is empty, to target. The transition table, the evidence sources and the
// current state of every selected signature are checked before any evidence
// is requested; when one signature fails these checks nothing is modified
// and an Errors value describes every failure.
//
// When the revocation step is needed but the OCSP source is absent, the
// signature is left unchanged and the skip is logged.
//
// Evidence already embedded by a step that completed stays embedded when a
// later step fails.
func (e *Extender) Extend(ctx context.Context, c container.Container, target container.Profile, selection ...string) error {
	sigs, err := selectSignatures(c, selection)
	if err != nil {
		return err
	}
	for _, sig := range sigs {
		defer sig.LockExtension()()
	}

	sources := e.Sources.resolve()
	content := validation.LevelContent(c)
	plans := make([]plan, 0, len(sigs))
	var errs Errors
	for _, sig := range sigs {
		p := newPlan(sig, target)
		if err := e.checkPlan(p, target, sources, content); err != nil {
			errs = append(errs, &ExtensionError{SignatureID: sig.ID, From: p.from, To: target, Err: err})
			continue
		}
		if _, ok := sources.ocsp.Get(); p.addLT && !ok {
			p.skipped = true
			e.logger.Info("OCSP source is absent, signature left unchanged",
				"signature", sig.ID, "from", p.from, "to", target)
		}
		plans = append(plans, p)
	}
	if len(errs) > 0 {
		return errs
	}

	for _, p := range plans {
		if p.skipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, p, sources); err != nil {
			errs = append(errs, &ExtensionError{SignatureID: p.sig.ID, From: p.from, To: target, Err: err})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkPlan runs the transition check, the source checks and the
// pre-validation of one signature, in that order.
func (e *Extender) checkPlan(p plan, target container.Profile, sources resolvedSources, content validation.ContentFunc) error {
	if err := CheckTransition(p.from, target); err != nil {
		return err
	}
	if (p.addT || target == container.ProfileLT) && !sources.signatureTSP.Present() {
		return ErrTSPSourceRequired
	}
	if p.addLTA && !sources.archiveTSP.Present() {
		return ErrTSPSourceRequired
	}
	if p.addLT && sources.ocsp.Present() && e.issuerOf(p.sig) == nil {
		return &EvidenceError{Source: SourceOCSP, SignatureID: p.sig.ID,
			Err: fmt.Errorf("%w: %w", revinfo.ErrOCSPRequest, revinfo.ErrIssuerRequired)}
	}
	return e.preValidate(p.sig, content)
}

// preValidate rejects signatures whose value does not verify or whose
// signing certificate expired without proof of existence.
func (e *Extender) preValidate(sig *container.Signature, content validation.ContentFunc) error {
	if err := validation.VerifySignature(sig, content); err != nil {
		return &PreValidationError{SignatureID: sig.ID, Err: err}
	}
	var expired *validation.ExpiredCertificateError
	if err := validation.CheckSigningCertificateExpiry(sig, e.clock.Now()); errors.As(err, &expired) {
		return &PreValidationError{SignatureID: sig.ID, Err: &ExpiredSignatureError{Cause: expired}}
	}
	return nil
}

func (e *Extender) apply(ctx context.Context, p plan, sources resolvedSources) error {
	sig := p.sig
	if p.addT {
		tsp, _ := sources.signatureTSP.Get()
		token, err := timestamps.Timestamp(ctx, tsp, e.digestAlgorithm, sig.SignatureTimestampInput())
		if err != nil {
			return &EvidenceError{Source: SourceSignatureTSP, SignatureID: sig.ID, Err: err}
		}
		if err := sig.SetSignatureTimestamp(container.NewTimestamp("", token.Raw, nil)); err != nil {
			return err
		}
		sig.Upgrade(container.ProfileT)
		e.logger.Debug("signature timestamp added", "signature", sig.ID, "time", token.GenTime())
	}

	if p.addLT {
		ocsp, _ := sources.ocsp.Get()
		token, err := ocsp.GetRevocationToken(ctx, sig.SigningCertificate, e.issuerOf(sig))
		if err != nil {
			return &EvidenceError{Source: SourceOCSP, SignatureID: sig.ID, Err: err}
		}
		sig.AddOCSPResponse(token)
		sig.Upgrade(container.ProfileLT)
		e.logger.Debug("revocation data added", "signature", sig.ID, "produced", token.ResponseTime())
	}

	if p.addLTA {
		tsp, _ := sources.archiveTSP.Get()
		ev := sig.Evidence()
		input := sig.ArchiveTimestampInput(ev, len(ev.ArchiveTimestamps()))
		token, err := timestamps.Timestamp(ctx, tsp, e.digestAlgorithm, input)
		if err != nil {
			return &EvidenceError{Source: SourceArchiveTSP, SignatureID: sig.ID, Err: err}
		}
		sig.AddArchiveTimestamp(container.NewTimestamp("", token.Raw, nil))
		sig.Upgrade(container.ProfileLTA)
		e.logger.Debug("archive timestamp added", "signature", sig.ID,
			"count", len(ev.ArchiveTimestamps())+1, "time", token.GenTime())
	}
	return nil
}

// selectSignatures returns the selected signatures of the outermost level
// ordered by id, or all of them when selection is empty.
func selectSignatures(c container.Container, selection []string) ([]*container.Signature, error) {
	if c == nil {
		return nil, validation.ErrNilContainer
	}
	all := c.Signatures()
	var sigs []*container.Signature
	if len(selection) == 0 {
		sigs = all
	} else {
		for _, id := range selection {
			i := slices.IndexFunc(all, func(s *container.Signature) bool { return s.ID == id })
			if i < 0 {
				return nil, &ExtensionError{SignatureID: id, Err: ErrSignatureNotFound}
			}
			if !slices.Contains(sigs, all[i]) {
				sigs = append(sigs, all[i])
			}
		}
	}
	sigs = slices.Clone(sigs)
	slices.SortFunc(sigs, func(a, b *container.Signature) int { return strings.Compare(a.ID, b.ID) })
	return sigs, nil
}

package signers

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/extension"
	"github.com/georgepadayatti/goasic/sign/validation"
)

// DefaultDigestAlgorithm is used for references and the signature value
// when no other algorithm is configured.
const DefaultDigestAlgorithm = crypto.SHA256

// Option configures a Signer.
type Option func(*Signer)

// WithClock sets the clock that provides the claimed signing time.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Signer) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) { s.logger = logger }
}

// WithDigestAlgorithm sets the digest algorithm for references, the
// signature value and the evidence requested during extension.
func WithDigestAlgorithm(h crypto.Hash) Option {
	return func(s *Signer) { s.digestAlgorithm = h }
}

// WithPolicy makes the signer embed the signature policy with the given
// identifier. Basic signatures are then produced at B_EPES; signatures
// requested at T, LT or LTA carry the policy and are extended from B_BES.
func WithPolicy(oid string) Option {
	return func(s *Signer) { s.policyID = oid }
}

// Signer creates signatures over every data file of a container. Sources
// are resolved on every Sign call.
type Signer struct {
	Sources extension.Sources

	clock           clockwork.Clock
	logger          *slog.Logger
	digestAlgorithm crypto.Hash
	policyID        string
}

// NewSigner creates a signer that extends new signatures with sources.
func NewSigner(sources extension.Sources, opts ...Option) *Signer {
	s := &Signer{
		Sources:         sources,
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
		digestAlgorithm: DefaultDigestAlgorithm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseProfile returns the profile of a signature requested at target before
// extension.
func (s *Signer) BaseProfile(target container.Profile) container.Profile {
	if s.policyID != "" && !target.HasSignatureTimestamp() {
		return container.ProfileBEPES
	}
	return container.ProfileBBES
}

// NewSignatureID returns a fresh signature identifier: "id-" followed by
// 32 lowercase hex characters.
func NewSignatureID() string {
	return "id-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sign signs every data file of c with token and raises the new signature to
// profile. The container is only modified when signing and extension both
// succeed. Signing at LT or LTA is strict: an absent OCSP source fails with
// revinfo.ErrOCSPRequest instead of leaving the profile unchanged.
func (s *Signer) Sign(ctx context.Context, c *container.Simple, token SignatureToken, profile container.Profile) (*container.Signature, error) {
	if c == nil {
		return nil, validation.ErrNilContainer
	}
	if token == nil {
		return nil, ErrTokenRequired
	}
	cert := token.Certificate()
	if cert == nil {
		return nil, ErrNoSigningCertificate
	}
	if err := checkSignable(c); err != nil {
		return nil, err
	}
	target, err := s.checkProfile(profile)
	if err != nil {
		return nil, err
	}
	base := s.BaseProfile(target)
	if profile.HasRevocationData() && !s.Sources.OCSP.Resolve().Present() {
		return nil, revinfo.ErrOCSPRequest
	}

	sig := container.NewSignature(NewSignatureID(), base)
	sig.EntryName = fmt.Sprintf("META-INF/signatures%d.xml", len(c.Signatures()))
	sig.SigningTime = s.clock.Now().UTC().Truncate(time.Second)
	sig.SigningCertificate = cert
	if ct, ok := token.(ChainToken); ok {
		sig.CertificateChain = ct.CertificateChain()
	}
	sig.PolicyID = s.policyID
	for _, df := range c.DataFiles() {
		sig.References = append(sig.References, container.Reference{
			URI:             df.Name,
			MimeType:        df.MimeType,
			DigestAlgorithm: s.digestAlgorithm,
			Digest:          df.Digest(s.digestAlgorithm),
		})
	}
	value, err := token.Sign(s.digestAlgorithm, sig.SignedInfo())
	if err != nil {
		return nil, NewSigningError("failed to sign", err)
	}
	sig.SignatureValue = value

	manifest := c.Manifest()
	if manifest == nil && c.Type() == container.TypeASiCE {
		manifest = asic.ManifestFor(c.DataFiles())
	}
	if target != base {
		if err := s.extend(ctx, c, manifest, sig, target); err != nil {
			return nil, err
		}
	}

	if c.Manifest() == nil && manifest != nil {
		c.SetManifest(manifest)
	}
	c.AddSignature(sig)
	s.logger.Debug("signature created", "id", sig.ID, "profile", sig.Profile(), "subject", cert.Subject.CommonName)
	return sig, nil
}

// extend raises sig on a scratch copy of c so that a failed extension
// leaves c untouched.
func (s *Signer) extend(ctx context.Context, c *container.Simple, manifest *container.Manifest, sig *container.Signature, profile container.Profile) error {
	scratch := container.NewSimple(c.Type())
	for _, df := range c.DataFiles() {
		if err := scratch.AddDataFile(df); err != nil {
			return err
		}
	}
	scratch.SetManifest(manifest)
	scratch.AddSignature(sig)

	extender := extension.NewExtender(s.Sources,
		extension.WithClock(s.clock),
		extension.WithLogger(s.logger),
		extension.WithDigestAlgorithm(s.digestAlgorithm),
	)
	if err := extender.Extend(ctx, scratch, profile, sig.ID); err != nil {
		return NewSigningError(fmt.Sprintf("failed to extend signature to %s", profile), err)
	}
	return nil
}

// checkProfile returns the profile the new signature ends up at. B_BES
// requests yield B_EPES when a policy is configured.
func (s *Signer) checkProfile(profile container.Profile) (container.Profile, error) {
	switch profile {
	case container.ProfileBBES:
		return s.BaseProfile(profile), nil
	case container.ProfileBEPES:
		if s.policyID == "" {
			return "", ErrPolicyRequired
		}
		return profile, nil
	case container.ProfileT, container.ProfileLT, container.ProfileLTA:
		if err := extension.CheckTransition(s.BaseProfile(profile), profile); err != nil {
			return "", err
		}
		return profile, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedProfile, profile)
}

func checkSignable(c *container.Simple) error {
	switch c.Type() {
	case container.TypeASiCE:
	case container.TypeASiCS:
		if len(c.Timestamps()) > 0 {
			return ErrTimestampedContainer
		}
		if len(c.DataFiles()) > 1 {
			return ErrASiCSDataFileCount
		}
	default:
		return ErrUnsupportedContainer
	}
	if len(c.DataFiles()) == 0 {
		return ErrNoDataFiles
	}
	return nil
}

// Package certvalidator builds X.509 certification paths from signing
// certificates up to trust anchors.
package certvalidator

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrCertificateRequired = errors.New("certificate is required")
	ErrInvalidChain        = errors.New("invalid certificate chain")
	ErrNoTrustAnchor       = errors.New("no trust anchor found")
	ErrChainTooLong        = errors.New("certificate chain too long")
)

// ValidationContext provides context for certificate validation.
type ValidationContext struct {
	TrustRoots        []*x509.Certificate
	IntermediateCerts []*x509.Certificate
	ValidationTime    time.Time
	MaxChainLength    int
}

// NewValidationContext creates a new validation context.
func NewValidationContext(roots []*x509.Certificate) *ValidationContext {
	return &ValidationContext{
		TrustRoots:     roots,
		ValidationTime: time.Now(),
		MaxChainLength: 10,
	}
}

// SetValidationTime sets the time for validation.
func (ctx *ValidationContext) SetValidationTime(t time.Time) {
	ctx.ValidationTime = t
}

// AddIntermediateCert adds intermediate certificates.
func (ctx *ValidationContext) AddIntermediateCert(certs ...*x509.Certificate) {
	for _, cert := range certs {
		if cert != nil {
			ctx.IntermediateCerts = append(ctx.IntermediateCerts, cert)
		}
	}
}

// ValidationResult contains the result of certificate validation.
type ValidationResult struct {
	// Chain starts with the validated certificate and ends with the trust
	// anchor.
	Chain       []*x509.Certificate
	TrustAnchor *x509.Certificate
}

// Issuer returns the certificate that issued the validated certificate, or
// nil when the validated certificate is itself a trust anchor.
func (r *ValidationResult) Issuer() *x509.Certificate {
	if r == nil || len(r.Chain) < 2 {
		return nil
	}
	return r.Chain[1]
}

// CertificateValidator validates X.509 certificates.
type CertificateValidator struct {
	Context *ValidationContext
}

// NewCertificateValidator creates a new certificate validator.
func NewCertificateValidator(ctx *ValidationContext) *CertificateValidator {
	return &CertificateValidator{Context: ctx}
}

// Validate builds the certification path of cert at the validation time.
// Key usage is not constrained; signing and time-stamping certificates are
// judged by their own checks.
func (v *CertificateValidator) Validate(cert *x509.Certificate) (*ValidationResult, error) {
	if cert == nil {
		return nil, ErrCertificateRequired
	}
	chain, err := v.buildChain(cert)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{Chain: chain, TrustAnchor: chain[len(chain)-1]}, nil
}

// buildChain builds the certificate chain to a trust anchor.
func (v *CertificateValidator) buildChain(cert *x509.Certificate) ([]*x509.Certificate, error) {
	if len(v.Context.TrustRoots) == 0 {
		return nil, ErrNoTrustAnchor
	}

	roots := x509.NewCertPool()
	for _, root := range v.Context.TrustRoots {
		roots.AddCert(root)
	}
	intermediates := x509.NewCertPool()
	for _, inter := range v.Context.IntermediateCerts {
		intermediates.AddCert(inter)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   v.Context.ValidationTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	chains, err := cert.Verify(opts)
	if err != nil {
		var unknown x509.UnknownAuthorityError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", ErrNoTrustAnchor, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if len(chains) == 0 {
		return nil, ErrNoTrustAnchor
	}

	chain := chains[0]
	for _, c := range chains[1:] {
		if len(c) < len(chain) {
			chain = c
		}
	}
	if v.Context.MaxChainLength > 0 && len(chain) > v.Context.MaxChainLength {
		return nil, fmt.Errorf("%w: %d certificates", ErrChainTooLong, len(chain))
	}
	return chain, nil
}

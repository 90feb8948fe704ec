// Package revinfo provides OCSP revocation evidence: acquiring responses from
// a responder, holding them as signature evidence, and checking them.
package revinfo

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Common errors
var (
	ErrRevoked          = errors.New("certificate is revoked")
	ErrOCSPExpired      = errors.New("OCSP response has expired")
	ErrOCSPNotYetValid  = errors.New("OCSP response is not yet valid")
	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrNoRevocationInfo = errors.New("no revocation information available")
	ErrOCSPRequest      = errors.New("OCSP request failed")
	ErrNoResponderURL   = errors.New("certificate has no OCSP responder URL")
	ErrIssuerRequired   = errors.New("issuer certificate is required for an OCSP request")
)

// RevocationStatus is the certificate status reported by a response.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// OCSPToken is an OCSP response embedded as signature evidence.
type OCSPToken struct {
	// Raw OCSP response data
	Raw []byte
	// Parsed OCSP response
	Response *ocsp.Response
	// Issuer certificate the response was checked against, if known
	Issuer *x509.Certificate
	// OCSP responder URL
	URL string
}

// NewOCSPToken parses raw. When issuer is non-nil the response signature is
// verified against it.
func NewOCSPToken(raw []byte, issuer *x509.Certificate, url string) (*OCSPToken, error) {
	resp, err := ocsp.ParseResponse(raw, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	return &OCSPToken{
		Raw:      bytes.Clone(raw),
		Response: resp,
		Issuer:   issuer,
		URL:      url,
	}, nil
}

// ResponseTime returns producedAt, the time at which the responder signed
// the response.
func (t *OCSPToken) ResponseTime() time.Time {
	return t.Response.ProducedAt
}

// Status maps the response status.
func (t *OCSPToken) Status() RevocationStatus {
	switch t.Response.Status {
	case ocsp.Good:
		return StatusGood
	case ocsp.Revoked:
		return StatusRevoked
	default:
		return StatusUnknown
	}
}

// Validate checks the validity window of the response at the given time.
func (t *OCSPToken) Validate(at time.Time) error {
	if at.Before(t.Response.ThisUpdate) {
		return ErrOCSPNotYetValid
	}
	if !t.Response.NextUpdate.IsZero() && at.After(t.Response.NextUpdate) {
		return ErrOCSPExpired
	}
	return nil
}

// Covers reports whether the response is about cert.
func (t *OCSPToken) Covers(cert *x509.Certificate) bool {
	return cert != nil && t.Response.SerialNumber != nil && t.Response.SerialNumber.Cmp(cert.SerialNumber) == 0
}

// CheckCertificate verifies the response against issuer and reports the
// status of cert.
func (t *OCSPToken) CheckCertificate(cert, issuer *x509.Certificate) (RevocationStatus, error) {
	if !t.Covers(cert) {
		return StatusUnknown, ErrIssuerMismatch
	}
	if issuer == nil {
		return StatusUnknown, ErrIssuerRequired
	}
	if _, err := ocsp.ParseResponseForCert(t.Raw, cert, issuer); err != nil {
		return StatusUnknown, fmt.Errorf("OCSP response does not verify: %w", err)
	}
	status := t.Status()
	if status == StatusRevoked {
		return status, ErrRevoked
	}
	return status, nil
}

// OCSPSource obtains OCSP responses for a certificate.
type OCSPSource interface {
	GetRevocationToken(ctx context.Context, cert, issuer *x509.Certificate) (*OCSPToken, error)
}

// HTTPOCSPSource queries an OCSP responder over HTTP. When URL is empty the
// responder named in the certificate AIA extension is used.
type HTTPOCSPSource struct {
	URL        string
	HTTPClient *http.Client
	Hash       crypto.Hash
	UserAgent  string
	Logger     *slog.Logger
}

// NewHTTPOCSPSource creates an OCSP source with a 30 second timeout.
func NewHTTPOCSPSource(url string) *HTTPOCSPSource {
	return &HTTPOCSPSource{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Hash:       crypto.SHA256,
	}
}

// GetRevocationToken implements OCSPSource.
func (s *HTTPOCSPSource) GetRevocationToken(ctx context.Context, cert, issuer *x509.Certificate) (*OCSPToken, error) {
	if cert == nil || issuer == nil {
		return nil, fmt.Errorf("%w: %w", ErrOCSPRequest, ErrIssuerRequired)
	}
	url := s.URL
	if url == "" {
		if len(cert.OCSPServer) == 0 {
			return nil, ErrNoResponderURL
		}
		url = cert.OCSPServer[0]
	}

	req, err := CreateOCSPRequest(cert, issuer, s.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "requesting OCSP response", "url", url, "serial", cert.SerialNumber.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")
	if s.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrOCSPRequest, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}

	token, err := NewOCSPToken(body, issuer, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	if !token.Covers(cert) {
		return nil, fmt.Errorf("%w: response is for serial %v", ErrOCSPRequest, token.Response.SerialNumber)
	}
	return token, nil
}

// CreateOCSPRequest creates an OCSP request for a certificate.
func CreateOCSPRequest(cert, issuer *x509.Certificate, hash crypto.Hash) ([]byte, error) {
	if cert == nil || issuer == nil {
		return nil, ErrIssuerRequired
	}
	if hash == 0 {
		hash = crypto.SHA256
	}
	return ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: hash})
}

// Freshness is the outcome of comparing an OCSP response time with the
// signature timestamp it should follow.
type Freshness int

const (
	Fresh Freshness = iota
	NotFresh
	TooLate
)

// CheckFreshness classifies the delay between the signature timestamp and
// the OCSP response time. A response from before the timestamp is fresh.
func CheckFreshness(responseTime, timestampTime time.Time, warnAfter, failAfter time.Duration) Freshness {
	delay := responseTime.Sub(timestampTime)
	switch {
	case delay > failAfter:
		return TooLate
	case delay > warnAfter:
		return NotFresh
	default:
		return Fresh
	}
}

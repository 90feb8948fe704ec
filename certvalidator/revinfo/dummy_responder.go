package revinfo

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ocsp"
)

// DummyOCSPResponder answers OCSP requests for certificates issued by one CA.
// It is used by tests and by the in-process responder.
type DummyOCSPResponder struct {
	Issuer        *x509.Certificate
	ResponderCert *x509.Certificate
	ResponderKey  crypto.Signer
	Clock         clockwork.Clock
	// Delay shifts producedAt relative to the clock.
	Delay time.Duration
	// StatusAge is how long before producedAt the reported status was
	// known, i.e. producedAt minus thisUpdate.
	StatusAge time.Duration

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewDummyOCSPResponder creates a responder that signs with the issuing CA key.
func NewDummyOCSPResponder(issuer *x509.Certificate, key crypto.Signer) *DummyOCSPResponder {
	return &DummyOCSPResponder{
		Issuer:        issuer,
		ResponderCert: issuer,
		ResponderKey:  key,
		Clock:         clockwork.NewRealClock(),
		revoked:       make(map[string]time.Time),
	}
}

// Revoke marks serial as revoked at the given time.
func (r *DummyOCSPResponder) Revoke(serial *big.Int, at time.Time) {
	r.mu.Lock()
	r.revoked[serial.String()] = at
	r.mu.Unlock()
}

// GetRevocationToken implements OCSPSource.
func (r *DummyOCSPResponder) GetRevocationToken(ctx context.Context, cert, issuer *x509.Certificate) (*OCSPToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate", ErrOCSPRequest)
	}
	raw, err := r.respond(cert.SerialNumber)
	if err != nil {
		return nil, err
	}
	return NewOCSPToken(raw, r.Issuer, "")
}

// HandleRequest answers a DER encoded OCSP request.
func (r *DummyOCSPResponder) HandleRequest(der []byte) ([]byte, error) {
	req, err := ocsp.ParseRequest(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP request: %w", err)
	}
	return r.respond(req.SerialNumber)
}

func (r *DummyOCSPResponder) respond(serial *big.Int) ([]byte, error) {
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	producedAt := clock.Now().Add(r.Delay)
	thisUpdate := producedAt.Add(-r.StatusAge)
	nextUpdate := producedAt.Add(24 * time.Hour)

	b := newResponseBuilder(r.Issuer, r.ResponderCert, r.ResponderKey, producedAt)
	r.mu.RLock()
	revokedAt, revoked := r.revoked[serial.String()]
	r.mu.RUnlock()

	var err error
	if revoked {
		err = b.addRevoked(serial, thisUpdate, nextUpdate, revokedAt, ocsp.KeyCompromise)
	} else {
		err = b.addGood(serial, thisUpdate, nextUpdate)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	raw, err := b.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequest, err)
	}
	return raw, nil
}

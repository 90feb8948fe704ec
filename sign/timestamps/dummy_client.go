package timestamps

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/sign/cms"
)

// DummyTimeStamper acts as its own TSA for testing purposes.
// It accepts all requests and signs them using the provided certificate.
type DummyTimeStamper struct {
	// TSACert is the TSA signing certificate.
	TSACert *x509.Certificate

	// TSAKey is the TSA private key.
	TSAKey crypto.Signer

	// CertsToEmbed are additional certificates to include in the response.
	CertsToEmbed []*x509.Certificate

	// Clock supplies genTime. Defaults to the real clock.
	Clock clockwork.Clock

	// IncludeNonce controls whether to echo the nonce from requests.
	IncludeNonce bool

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewDummyTimeStamper creates a new dummy timestamper.
func NewDummyTimeStamper(cert *x509.Certificate, key crypto.Signer) *DummyTimeStamper {
	return &DummyTimeStamper{
		TSACert:      cert,
		TSAKey:       key,
		Clock:        clockwork.NewRealClock(),
		IncludeNonce: true,
		// Default TSA policy OID
		Policy: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithCertsToEmbed adds certificates to embed in responses.
func (d *DummyTimeStamper) WithCertsToEmbed(certs []*x509.Certificate) *DummyTimeStamper {
	d.CertsToEmbed = certs
	return d
}

// WithClock sets the clock used for genTime.
func (d *DummyTimeStamper) WithClock(clock clockwork.Clock) *DummyTimeStamper {
	d.Clock = clock
	return d
}

// WithFixedTime pins genTime to t.
func (d *DummyTimeStamper) WithFixedTime(t time.Time) *DummyTimeStamper {
	d.Clock = clockwork.NewFakeClockAt(t)
	return d
}

// WithPolicy sets the TSA policy OID.
func (d *DummyTimeStamper) WithPolicy(policy asn1.ObjectIdentifier) *DummyTimeStamper {
	d.Policy = policy
	return d
}

// GetTimeStampResponse implements TSPSource.
func (d *DummyTimeStamper) GetTimeStampResponse(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*TimestampToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	reqBytes, nonce, err := CreateTimestampRequest(digestAlgorithm, digest, DefaultTimestampRequestOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respBytes, err := d.HandleRequest(reqBytes)
	if err != nil {
		return nil, err
	}

	token, err := ParseTimestampResponse(respBytes, digest, nonce)
	if err != nil {
		return nil, err
	}
	return ParseTimestampToken(token)
}

// HandleRequest answers a DER encoded TimeStampReq with a DER encoded
// TimeStampResp.
func (d *DummyTimeStamper) HandleRequest(reqBytes []byte) ([]byte, error) {
	var req TimeStampReq
	if _, err := asn1.Unmarshal(reqBytes, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}

	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, err
	}

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         d.Policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serialNumber,
		GenTime:        clock.Now().UTC().Truncate(time.Second),
	}
	if len(req.ReqPolicy) > 0 {
		tstInfo.Policy = req.ReqPolicy
	}
	if d.IncludeNonce && req.Nonce != nil {
		tstInfo.Nonce = req.Nonce
	}

	tstInfoBytes, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TSTInfo: %w", err)
	}

	builder := cms.NewSignedDataBuilder(d.TSACert, d.TSAKey, OIDTSTInfo)
	builder.CertChain = d.CertsToEmbed
	token, err := builder.Build(tstInfoBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign TSTInfo: %w", err)
	}

	resp := TimeStampResp{
		Status: PKIStatusInfo{
			Status: 0, // granted
		},
		TimeStampToken: asn1.RawValue{
			FullBytes: token,
		},
	}

	return asn1.Marshal(resp)
}

// generateSerialNumber generates a random serial number.
func generateSerialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

// CreateTestTimestamper creates a dummy timestamper with a self-signed
// certificate named commonName.
func CreateTestTimestamper(commonName string) (*DummyTimeStamper, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := generateSerialNumber()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Test"},
			Country:      []string{"EE"},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return NewDummyTimeStamper(cert, privateKey), nil
}

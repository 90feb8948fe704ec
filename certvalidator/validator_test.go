package certvalidator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

var (
	notBefore = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter  = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	checkTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

var serial int64

func generateTestCert(t *testing.T, cn string, isCA bool, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serial++
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}

	parent, parentKey := template, key
	if issuer != nil {
		parent, parentKey = issuer, issuerKey
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert, key
}

func TestValidate(t *testing.T) {
	root, rootKey := generateTestCert(t, "Root CA", true, nil, nil)
	inter, interKey := generateTestCert(t, "Intermediate CA", true, root, rootKey)
	leaf, _ := generateTestCert(t, "Leaf", false, inter, interKey)
	direct, _ := generateTestCert(t, "Direct Leaf", false, root, rootKey)
	other, _ := generateTestCert(t, "Other Root", true, nil, nil)

	tests := []struct {
		name          string
		cert          *x509.Certificate
		roots         []*x509.Certificate
		intermediates []*x509.Certificate
		at            time.Time
		maxLength     int
		wantLen       int
		wantErr       error
	}{
		{"issued by root", direct, []*x509.Certificate{root}, nil, checkTime, 10, 2, nil},
		{"through intermediate", leaf, []*x509.Certificate{root}, []*x509.Certificate{inter, nil}, checkTime, 10, 3, nil},
		{"missing intermediate", leaf, []*x509.Certificate{root}, nil, checkTime, 10, 0, ErrNoTrustAnchor},
		{"unknown root", direct, []*x509.Certificate{other}, nil, checkTime, 10, 0, ErrNoTrustAnchor},
		{"no roots", direct, nil, nil, checkTime, 10, 0, ErrNoTrustAnchor},
		{"after expiry", direct, []*x509.Certificate{root}, nil, notAfter.Add(time.Hour), 10, 0, ErrInvalidChain},
		{"chain too long", leaf, []*x509.Certificate{root}, []*x509.Certificate{inter}, checkTime, 2, 0, ErrChainTooLong},
		{"no certificate", nil, []*x509.Certificate{root}, nil, checkTime, 10, 0, ErrCertificateRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewValidationContext(tt.roots)
			ctx.SetValidationTime(tt.at)
			ctx.MaxChainLength = tt.maxLength
			ctx.AddIntermediateCert(tt.intermediates...)

			result, err := NewCertificateValidator(ctx).Validate(tt.cert)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if len(result.Chain) != tt.wantLen {
				t.Fatalf("len(Chain) = %d, want %d", len(result.Chain), tt.wantLen)
			}
			if !result.TrustAnchor.Equal(root) {
				t.Errorf("TrustAnchor = %q, want %q", result.TrustAnchor.Subject.CommonName, root.Subject.CommonName)
			}
			if !result.Chain[0].Equal(tt.cert) {
				t.Errorf("Chain[0] = %q, want %q", result.Chain[0].Subject.CommonName, tt.cert.Subject.CommonName)
			}
		})
	}
}

func TestValidationResultIssuer(t *testing.T) {
	root, rootKey := generateTestCert(t, "Root CA", true, nil, nil)
	inter, interKey := generateTestCert(t, "Intermediate CA", true, root, rootKey)
	leaf, _ := generateTestCert(t, "Leaf", false, inter, interKey)

	ctx := NewValidationContext([]*x509.Certificate{root})
	ctx.SetValidationTime(checkTime)
	ctx.AddIntermediateCert(inter)
	v := NewCertificateValidator(ctx)

	result, err := v.Validate(leaf)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := result.Issuer(); got == nil || !got.Equal(inter) {
		t.Errorf("Issuer() = %v, want the intermediate CA", got)
	}

	self, err := v.Validate(root)
	if err != nil {
		t.Fatalf("Validate(root) error = %v", err)
	}
	if got := self.Issuer(); got != nil {
		t.Errorf("Issuer() of a trust anchor = %q, want nil", got.Subject.CommonName)
	}

	var none *ValidationResult
	if none.Issuer() != nil {
		t.Error("Issuer() of a nil result should be nil")
	}
}

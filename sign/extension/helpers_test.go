package extension

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/timestamps"
	"github.com/georgepadayatti/goasic/sign/validation"
	"github.com/georgepadayatti/goasic/sign/validation/qualified"
)

var (
	now         = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	signingTime = time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	serial      int64
)

type testKey struct {
	cert *x509.Certificate
	key  crypto.Signer
}

func newTestKey(t *testing.T, cn string, notBefore, notAfter time.Time, issuer *testKey) *testKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial++
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn, Country: []string{"EE"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  issuer == nil,
	}
	parent, signer := template, crypto.Signer(key)
	if issuer != nil {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return &testKey{cert: cert, key: key}
}

func longLived(t *testing.T, cn string, issuer *testKey) *testKey {
	return newTestKey(t, cn,
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), issuer)
}

type env struct {
	ca        *testKey
	signer    *testKey
	tsa       *timestamps.DummyTimeStamper
	responder *revinfo.DummyOCSPResponder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{ca: longLived(t, "Test CA", nil)}
	e.signer = newTestKey(t, "Test Signer",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), e.ca)
	e.tsa = newTSA(t, "Test QTSA")
	e.responder = revinfo.NewDummyOCSPResponder(e.ca.cert, e.ca.key)
	e.responder.Clock = clockwork.NewFakeClockAt(now)
	return e
}

func newTSA(t *testing.T, cn string) *timestamps.DummyTimeStamper {
	k := longLived(t, cn, nil)
	return timestamps.NewDummyTimeStamper(k.cert, k.key).WithFixedTime(now)
}

func (e *env) sources() Sources {
	return StaticSources(e.tsa, e.responder)
}

func (e *env) extender(sources Sources) *Extender {
	return NewExtender(sources, WithClock(clockwork.NewFakeClockAt(now)))
}

// validator trusts every TSA passed in as a granted QTST service.
func (e *env) validator(tsas ...*timestamps.DummyTimeStamper) *validation.Validator {
	registry := qualified.NewTSPRegistry()
	for _, tsa := range append(tsas, e.tsa) {
		registry.Register(&qualified.ServiceDefinition{
			ServiceName:   tsa.TSACert.Subject.CommonName,
			Territory:     "EE",
			ProviderCerts: []*x509.Certificate{tsa.TSACert},
			History: []qualified.StatusPeriod{{
				ServiceType: qualified.QTSTUri,
				Status:      qualified.StatusGrantedURI,
				From:        time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
			}},
		})
	}
	return validation.NewValidator(&validation.ValidatorSettings{
		Clock:        clockwork.NewFakeClockAt(now),
		Classifier:   qualified.NewClassifier(registry),
		TrustAnchors: []*x509.Certificate{e.ca.cert},
	})
}

func newASiCE(t *testing.T) *container.Simple {
	t.Helper()
	c := container.NewSimple(container.TypeASiCE)
	if err := c.AddDataFile(container.NewDataFile("test.txt", "text/plain", []byte("see on testfail"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	c.SetManifest(&container.Manifest{Entries: []container.ManifestEntry{{Path: "test.txt", MimeType: "text/plain"}}})
	return c
}

// addSignature adds a B_BES signature by signer over every data file of c.
func addSignature(t *testing.T, c *container.Simple, id string, signer, issuer *testKey) *container.Signature {
	t.Helper()
	sig := container.NewSignature(id, container.ProfileBBES)
	sig.SigningTime = signingTime
	sig.SigningCertificate = signer.cert
	sig.CertificateChain = []*x509.Certificate{issuer.cert}
	for _, df := range c.DataFiles() {
		sig.References = append(sig.References, container.Reference{
			URI:             df.Name,
			MimeType:        df.MimeType,
			DigestAlgorithm: crypto.SHA256,
			Digest:          df.Digest(crypto.SHA256),
		})
	}
	digest := sha256.Sum256(sig.SignedInfo())
	value, err := signer.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig.SignatureValue = value
	c.AddSignature(sig)
	return sig
}

func (e *env) signed(t *testing.T, ids ...string) (*container.Simple, []*container.Signature) {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"id-1"}
	}
	c := newASiCE(t)
	sigs := make([]*container.Signature, len(ids))
	for i, id := range ids {
		sigs[i] = addSignature(t, c, id, e.signer, e.ca)
	}
	return c, sigs
}

var errTSAUnavailable = errors.New("TSA unavailable")

func failingTSP() timestamps.TSPSource {
	return timestamps.TSPSourceFunc(func(ctx context.Context, digestAlgorithm crypto.Hash, digest []byte) (*timestamps.TimestampToken, error) {
		return nil, errTSAUnavailable
	})
}

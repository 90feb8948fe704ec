package validation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/timestamps"
	"github.com/georgepadayatti/goasic/sign/validation/qualified"
)

var (
	validationTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	signingTime    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

type testKey struct {
	cert *x509.Certificate
	key  crypto.Signer
}

var serialCounter int64

func newTestKey(t *testing.T, cn, country string, notBefore, notAfter time.Time, issuer *testKey) *testKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serialCounter++
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serialCounter),
		Subject:               pkix.Name{CommonName: cn, Country: []string{country}},
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

func newCA(t *testing.T) *testKey {
	return newTestKey(t, "Test CA", "EE",
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), nil)
}

func newSigner(t *testing.T, ca *testKey, country string) *testKey {
	return newTestKey(t, "Test Signer", country,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), ca)
}

func newTSA(t *testing.T, cn string, genTime time.Time) *timestamps.DummyTimeStamper {
	t.Helper()
	k := newTestKey(t, cn, "EE",
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	return timestamps.NewDummyTimeStamper(k.cert, k.key).WithFixedTime(genTime)
}

func grantedSince(serviceType string, from time.Time) qualified.StatusPeriod {
	return qualified.StatusPeriod{ServiceType: serviceType, Status: qualified.StatusGrantedURI, From: from}
}

// newClassifier registers qtsa as a granted QTST service and tsa as a
// granted non-qualified TSA service.
func newClassifier(qtsa []*timestamps.DummyTimeStamper, tsa []*timestamps.DummyTimeStamper) *qualified.Classifier {
	registry := qualified.NewTSPRegistry()
	since := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range qtsa {
		registry.Register(&qualified.ServiceDefinition{
			ServiceName:   s.TSACert.Subject.CommonName,
			Territory:     "EE",
			ProviderCerts: []*x509.Certificate{s.TSACert},
			History:       []qualified.StatusPeriod{grantedSince(qualified.QTSTUri, since)},
		})
	}
	for _, s := range tsa {
		registry.Register(&qualified.ServiceDefinition{
			ServiceName:   s.TSACert.Subject.CommonName,
			Territory:     "EE",
			ProviderCerts: []*x509.Certificate{s.TSACert},
			History:       []qualified.StatusPeriod{grantedSince(qualified.TSAUri, since)},
		})
	}
	return qualified.NewClassifier(registry)
}

func newTestValidator(classifier *qualified.Classifier, anchors ...*x509.Certificate) *Validator {
	return NewValidator(&ValidatorSettings{
		Clock:        clockwork.NewFakeClockAt(validationTime),
		Classifier:   classifier,
		TrustAnchors: anchors,
	})
}

func newDataFileContainer(t *testing.T, typ container.Type, files ...*container.DataFile) *container.Simple {
	t.Helper()
	c := container.NewSimple(typ)
	for _, df := range files {
		if err := c.AddDataFile(df); err != nil {
			t.Fatalf("AddDataFile() error = %v", err)
		}
	}
	return c
}

// sign adds a B_BES signature over every data file of c.
func sign(t *testing.T, c *container.Simple, signer *testKey, chain ...*x509.Certificate) *container.Signature {
	t.Helper()
	serialCounter++
	sig := container.NewSignature("id-test"+big.NewInt(serialCounter).String(), container.ProfileBBES)
	sig.SigningTime = signingTime
	sig.SigningCertificate = signer.cert
	sig.CertificateChain = chain
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

func requestToken(t *testing.T, tsa timestamps.TSPSource, data []byte) []byte {
	t.Helper()
	token, err := timestamps.Timestamp(context.Background(), tsa, crypto.SHA256, data)
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	return token.Raw
}

func addSignatureTimestamp(t *testing.T, sig *container.Signature, tsa timestamps.TSPSource) {
	t.Helper()
	token := requestToken(t, tsa, sig.SignatureTimestampInput())
	if err := sig.SetSignatureTimestamp(container.NewTimestamp("", token, nil)); err != nil {
		t.Fatalf("SetSignatureTimestamp() error = %v", err)
	}
	sig.Upgrade(container.ProfileT)
}

func addOCSP(t *testing.T, sig *container.Signature, responder *revinfo.DummyOCSPResponder) {
	t.Helper()
	token, err := responder.GetRevocationToken(context.Background(), sig.SigningCertificate, responder.Issuer)
	if err != nil {
		t.Fatalf("GetRevocationToken() error = %v", err)
	}
	sig.AddOCSPResponse(token)
	sig.Upgrade(container.ProfileLT)
}

func addArchiveTimestamp(t *testing.T, sig *container.Signature, tsa timestamps.TSPSource) {
	t.Helper()
	ev := sig.Evidence()
	token := requestToken(t, tsa, sig.ArchiveTimestampInput(ev, len(ev.ArchiveTimestamps())))
	sig.AddArchiveTimestamp(container.NewTimestamp("", token, nil))
	sig.Upgrade(container.ProfileLTA)
}

// addContainerTimestamp appends the next token of an ASiC-S timestamp chain.
// When coverDataFile is false an archive manifest leaves the data file out.
func addContainerTimestamp(t *testing.T, c container.Container, tsa timestamps.TSPSource, coverDataFile bool) *container.Timestamp {
	t.Helper()
	existing := c.Timestamps()
	k := len(existing) + 1
	name := asic.TimestampEntryName(k)
	df := c.DataFiles()[0]
	dfScope := container.ScopeEntry{
		Name:        df.Name,
		Coverage:    container.CoverageFullDocument,
		Description: container.DescriptionFullDocument,
	}

	var ts *container.Timestamp
	if k == 1 {
		ts = container.NewTimestamp(name, requestToken(t, tsa, df.Content()), []container.ScopeEntry{dfScope})
	} else {
		am := &asic.ArchiveManifest{SigReference: name}
		for _, prev := range existing {
			am.References = append(am.References,
				asic.NewArchiveReference(prev.Name, container.MimeTypeTimestampToken, crypto.SHA256, prev.Token))
		}
		if coverDataFile {
			am.References = append(am.References, asic.NewArchiveReference(df.Name, df.MimeType, crypto.SHA256, df.Content()))
		}
		manifest, err := am.Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		manifestName := asic.ArchiveManifestEntryName(k)
		ts = container.NewManifestTimestamp(name, requestToken(t, tsa, manifest), manifestName, manifest, am.Scope(manifestName))
	}

	switch cc := c.(type) {
	case *container.Simple:
		cc.AddTimestamp(ts)
	case *container.Composite:
		cc.AddTimestamp(ts)
	}
	return ts
}

// breakToken flips the last byte of the token, which is the last byte of
// the SignerInfo signature.
func breakToken(token []byte) []byte {
	broken := bytes.Clone(token)
	broken[len(broken)-1] ^= 0xff
	return broken
}

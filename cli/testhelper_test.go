package cli

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/internal/responder"
	"github.com/georgepadayatti/goasic/sign/timestamps"
)

// executeCommand runs a fresh command tree with args and returns the
// combined output.
func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := newRootCommand(&app{clock: clockwork.NewRealClock()})
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// testCredential is a certificate and key written to PEM files.
type testCredential struct {
	cert     *x509.Certificate
	key      *ecdsa.PrivateKey
	certPath string
	keyPath  string
}

// testContext holds the files and services of one test.
type testContext struct {
	t       *testing.T
	tempDir string
	serial  int64
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	return &testContext{t: t, tempDir: t.TempDir()}
}

func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

func (tc *testContext) writeFile(name string, data []byte) string {
	tc.t.Helper()
	p := tc.path(name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		tc.t.Fatalf("Failed to write %s: %v", name, err)
	}
	return p
}

// credential creates a certificate named cn, self-signed when issuer is nil.
func (tc *testContext) credential(cn string, issuer *testCredential) *testCredential {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
	tc.serial++
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(tc.serial),
		Subject:               pkix.Name{CommonName: cn, Country: []string{"EE"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
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
		tc.t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tc.t.Fatalf("Failed to parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		tc.t.Fatalf("Failed to marshal key: %v", err)
	}

	return &testCredential{
		cert:     cert,
		key:      key,
		certPath: tc.writeFile(cn+".pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		keyPath:  tc.writeFile(cn+".key", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
	}
}

// pki is a CA, a signer issued by it and a TSA served over HTTP.
type pki struct {
	ca     *testCredential
	signer *testCredential
	tsa    *testCredential
	server *httptest.Server
}

func (tc *testContext) setupPKI() *pki {
	tc.t.Helper()
	ca := tc.credential("Test CA", nil)
	signer := tc.credential("Test Signer", ca)
	tsa := tc.credential("Test TSA", nil)

	srv := httptest.NewServer(responder.New(responder.Options{
		TSA:    timestamps.NewDummyTimeStamper(tsa.cert, tsa.key),
		OCSP:   revinfo.NewDummyOCSPResponder(ca.cert, ca.key),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	tc.t.Cleanup(srv.Close)
	return &pki{ca: ca, signer: signer, tsa: tsa, server: srv}
}

// config writes a configuration pointing at the test services.
func (tc *testContext) config(p *pki) string {
	tc.t.Helper()
	yaml := "tsp:\n  url: " + p.server.URL + "/tsa\n" +
		"ocsp:\n  url: " + p.server.URL + "/ocsp\n" +
		"trust:\n  anchors:\n    - " + strconv.Quote(p.ca.certPath) + "\n" +
		"logging:\n  level: error\n"
	return tc.writeFile("goasic.yaml", []byte(yaml))
}

// sign creates a signed ASiC-E container and returns its path.
func (tc *testContext) sign(p *pki, cfg, profile string) string {
	tc.t.Helper()
	data := tc.writeFile("data.txt", []byte("hello"))
	out := tc.path("signed-" + profile + ".asice")
	if output, err := executeCommand("--config", cfg, "sign",
		"--cert", p.signer.certPath, "--key", p.signer.keyPath, "--chain", p.ca.certPath,
		"--profile", profile, out, data); err != nil {
		tc.t.Fatalf("sign failed: %v\n%s", err, output)
	}
	return out
}

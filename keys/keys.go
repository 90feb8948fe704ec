// Package keys loads signing credentials and certificates from PEM, DER and
// PKCS#12 files and turns them into signature tokens.
package keys

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/goasic/sign/signers"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
	ErrKeyMismatch      = errors.New("private key does not match the certificate")
	ErrEncryptedPEMKey  = errors.New("encrypted PEM private keys are not supported, use PKCS#12")
	ErrPKCS12DecodeFail = errors.New("failed to decode PKCS#12 data")
)

// Credential is a signing certificate with its private key and the
// certificates issued above it.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	Chain       []*x509.Certificate
}

// Token returns a signature token backed by the credential.
func (c *Credential) Token() *signers.KeyToken {
	return signers.NewKeyToken(c.Certificate, c.PrivateKey, c.Chain...)
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// Non-certificate PEM blocks are skipped.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, err
		}
		all = append(all, certs...)
	}
	return all, nil
}

// LoadPrivateKeyFromPemDer loads an unencrypted private key from a PEM or
// DER encoded file.
func LoadPrivateKeyFromPemDer(filename string) (crypto.Signer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data)
}

// LoadPrivateKeyFromPemDerData loads an unencrypted private key from PEM or
// DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte) (crypto.Signer, error) {
	if !isPEM(data) {
		return parseDERPrivateKey(data)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	case "ENCRYPTED PRIVATE KEY":
		return nil, ErrEncryptedPEMKey
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
	}
}

func parseDERPrivateKey(data []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toSigner(key any) (crypto.Signer, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
	return signer, nil
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadPemDerCredential loads a credential from a certificate file, a key file
// and optional files holding the rest of the chain.
func LoadPemDerCredential(certFile, keyFile string, otherCerts ...string) (*Credential, error) {
	cert, err := LoadCertFromPemDer(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKeyFromPemDer(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	chain, err := LoadCertsFromPemDerFiles(otherCerts)
	if err != nil {
		return nil, fmt.Errorf("failed to load other certs: %w", err)
	}
	return newCredential(cert, key, chain)
}

// LoadPKCS12 loads a credential from a PKCS#12 file.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 bundle holding one key, its certificate
// and optionally the CA certificates.
func LoadPKCS12Data(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPKCS12DecodeFail, err)
	}
	signer, err := toSigner(key)
	if err != nil {
		return nil, err
	}
	return newCredential(cert, signer, caCerts)
}

// EncodePKCS12 writes a credential as a PKCS#12 bundle protected by password.
func EncodePKCS12(c *Credential, password string) ([]byte, error) {
	return pkcs12.Modern.Encode(c.PrivateKey, c.Certificate, c.Chain, password)
}

func newCredential(cert *x509.Certificate, key crypto.Signer, chain []*x509.Certificate) (*Credential, error) {
	if !publicKeysEqual(cert.PublicKey, key.Public()) {
		return nil, ErrKeyMismatch
	}
	return &Credential{Certificate: cert, PrivateKey: key, Chain: chain}, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}

// Package signers creates XAdES signatures over container data files and
// raises them to the requested baseline profile.
package signers

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
)

// SignatureToken produces raw signature values. The core never manages
// private keys; a token may front a software key, a smart card or a remote
// signing service.
type SignatureToken interface {
	// Certificate returns the signing certificate.
	Certificate() *x509.Certificate

	// Sign hashes data with digestAlgorithm and signs the digest.
	Sign(digestAlgorithm crypto.Hash, data []byte) ([]byte, error)
}

// ChainToken is implemented by tokens that also know the certificate chain
// of their signing certificate.
type ChainToken interface {
	SignatureToken
	CertificateChain() []*x509.Certificate
}

// KeyToken is a SignatureToken over an in-memory crypto.Signer.
type KeyToken struct {
	Cert  *x509.Certificate
	Chain []*x509.Certificate
	Key   crypto.Signer
}

// NewKeyToken creates a token for cert and its private key.
func NewKeyToken(cert *x509.Certificate, key crypto.Signer, chain ...*x509.Certificate) *KeyToken {
	return &KeyToken{Cert: cert, Chain: chain, Key: key}
}

// Certificate returns the signing certificate.
func (t *KeyToken) Certificate() *x509.Certificate {
	return t.Cert
}

// CertificateChain returns the certificates issued above the signing certificate.
func (t *KeyToken) CertificateChain() []*x509.Certificate {
	return t.Chain
}

// Sign implements SignatureToken.
func (t *KeyToken) Sign(digestAlgorithm crypto.Hash, data []byte) ([]byte, error) {
	if t.Key == nil {
		return nil, errors.New("token has no private key")
	}
	if !digestAlgorithm.Available() {
		return nil, fmt.Errorf("digest algorithm %v is not available", digestAlgorithm)
	}
	h := digestAlgorithm.New()
	h.Write(data)
	return t.Key.Sign(rand.Reader, h.Sum(nil), digestAlgorithm)
}

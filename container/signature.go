package container

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
)

// Reference binds a signature to one data file.
type Reference struct {
	URI             string
	MimeType        string
	DigestAlgorithm crypto.Hash
	Digest          []byte
}

// Signature is a XAdES signature together with its accumulated evidence.
// Only the extension engine raises its profile; evidence is append-only.
type Signature struct {
	ID                 string
	EntryName          string
	SigningTime        time.Time
	SigningCertificate *x509.Certificate
	CertificateChain   []*x509.Certificate
	PolicyID           string
	References         []Reference
	SignatureValue     []byte

	mu       sync.RWMutex
	extendMu sync.Mutex
	profile  Profile
	evidence Evidence
}

// NewSignature creates a signature at the given profile with no evidence.
func NewSignature(id string, profile Profile) *Signature {
	return &Signature{ID: id, profile: profile}
}

// Profile returns the current profile.
func (s *Signature) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Upgrade sets the profile. Callers must hold the extension lock.
func (s *Signature) Upgrade(p Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// LockExtension serialises extension of this signature. The returned function
// releases the lock.
func (s *Signature) LockExtension() func() {
	s.extendMu.Lock()
	return s.extendMu.Unlock
}

// Evidence returns a snapshot of the signature evidence.
func (s *Signature) Evidence() Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evidence.clone()
}

// SetSignatureTimestamp stores the signature timestamp. It can be set once.
func (s *Signature) SetSignatureTimestamp(ts *Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evidence.signatureTimestamp != nil {
		return fmt.Errorf("%w: %s", ErrSignatureTimestamp, s.ID)
	}
	s.evidence.signatureTimestamp = ts
	return nil
}

// AddOCSPResponse appends revocation data.
func (s *Signature) AddOCSPResponse(token *revinfo.OCSPToken) {
	s.mu.Lock()
	s.evidence.ocspResponses = append(s.evidence.ocspResponses, token)
	s.mu.Unlock()
}

// AddArchiveTimestamp appends an archive timestamp.
func (s *Signature) AddArchiveTimestamp(ts *Timestamp) {
	s.mu.Lock()
	s.evidence.archiveTimestamps = append(s.evidence.archiveTimestamps, ts)
	s.mu.Unlock()
}

// IssuerCertificate returns the issuer of the signing certificate when the
// chain carries it.
func (s *Signature) IssuerCertificate() *x509.Certificate {
	if s.SigningCertificate == nil {
		return nil
	}
	for _, cert := range s.CertificateChain {
		if bytes.Equal(cert.RawSubject, s.SigningCertificate.RawIssuer) {
			return cert
		}
	}
	return nil
}

// MimeTypeFor returns the mimetype the signature declares for a data file.
func (s *Signature) MimeTypeFor(uri string) (string, bool) {
	for _, ref := range s.References {
		if ref.URI == uri {
			return ref.MimeType, true
		}
	}
	return "", false
}

// CoveredDataFiles lists the names of the data files the signature references.
func (s *Signature) CoveredDataFiles() []string {
	names := make([]string, 0, len(s.References))
	for _, ref := range s.References {
		names = append(names, ref.URI)
	}
	return names
}

// DigestAlgorithm returns the algorithm the signature value is computed
// with: the algorithm of the first reference, or SHA-256.
func (s *Signature) DigestAlgorithm() crypto.Hash {
	if len(s.References) > 0 && s.References[0].DigestAlgorithm.Available() {
		return s.References[0].DigestAlgorithm
	}
	return crypto.SHA256
}

// SignedInfo returns the bytes the signature value is computed over. The
// encoding is line oriented and fixed so that it is reproducible from the
// parsed signature alone.
func (s *Signature) SignedInfo() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id:%s\n", s.ID)
	fmt.Fprintf(&buf, "signing-time:%s\n", s.SigningTime.UTC().Format(time.RFC3339))
	if s.SigningCertificate != nil {
		sum := sha256.Sum256(s.SigningCertificate.Raw)
		fmt.Fprintf(&buf, "signing-certificate:%s\n", hex.EncodeToString(sum[:]))
	}
	if s.PolicyID != "" {
		fmt.Fprintf(&buf, "policy:%s\n", s.PolicyID)
	}
	for _, ref := range s.References {
		fmt.Fprintf(&buf, "reference:%s|%s|%s|%s\n",
			ref.URI, ref.MimeType, ref.DigestAlgorithm, base64.StdEncoding.EncodeToString(ref.Digest))
	}
	return buf.Bytes()
}

// SignatureTimestampInput returns the bytes a signature timestamp covers.
func (s *Signature) SignatureTimestampInput() []byte {
	return bytes.Clone(s.SignatureValue)
}

// ArchiveTimestampInput returns the bytes covered by the archive timestamp at
// position index, given the evidence snapshot ev.
func (s *Signature) ArchiveTimestampInput(ev Evidence, index int) []byte {
	var buf bytes.Buffer
	buf.Write(s.SignedInfo())
	buf.Write(s.SignatureValue)
	if ev.signatureTimestamp != nil {
		buf.Write(ev.signatureTimestamp.Token)
	}
	for _, token := range ev.ocspResponses {
		buf.Write(token.Raw)
	}
	for i := 0; i < index && i < len(ev.archiveTimestamps); i++ {
		buf.Write(ev.archiveTimestamps[i].Token)
	}
	return buf.Bytes()
}

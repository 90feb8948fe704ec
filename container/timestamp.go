package container

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"

	"github.com/georgepadayatti/goasic/sign/timestamps"
)

// ScopeEntry names one object covered by a timestamp.
type ScopeEntry struct {
	Name        string       `json:"name"`
	Coverage    CoverageType `json:"coverage"`
	Description string       `json:"description"`
}

// Timestamp is an RFC 3161 token held by a container or a signature. It is
// never modified after creation.
type Timestamp struct {
	ID    string
	Name  string
	Token []byte

	// Parsed is nil when the token bytes could not be decoded; ParseError
	// then holds the reason.
	Parsed     *timestamps.TimestampToken
	ParseError error

	// Scope lists the covered objects in coverage order.
	Scope []ScopeEntry

	// ManifestName and Manifest are set for ASiC-S timestamps that cover an
	// archive manifest instead of the data file directly.
	ManifestName string
	Manifest     []byte
}

// NewTimestamp creates a timestamp from its encoded token.
func NewTimestamp(name string, token []byte, scope []ScopeEntry) *Timestamp {
	sum := sha256.Sum256(token)
	ts := &Timestamp{
		ID:    "T-" + strings.ToUpper(hex.EncodeToString(sum[:])),
		Name:  name,
		Token: token,
		Scope: append([]ScopeEntry(nil), scope...),
	}
	ts.Parsed, ts.ParseError = timestamps.ParseTimestampToken(token)
	return ts
}

// NewManifestTimestamp creates an ASiC-S timestamp that covers an archive manifest.
func NewManifestTimestamp(name string, token []byte, manifestName string, manifest []byte, scope []ScopeEntry) *Timestamp {
	ts := NewTimestamp(name, token, scope)
	ts.ManifestName = manifestName
	ts.Manifest = manifest
	return ts
}

// TSACertificate returns the certificate of the authority that issued the token.
func (t *Timestamp) TSACertificate() *x509.Certificate {
	if t.Parsed == nil {
		return nil
	}
	return t.Parsed.SignerCert
}

// ProductionTime returns the genTime of the token.
func (t *Timestamp) ProductionTime() time.Time {
	if t.Parsed == nil {
		return time.Time{}
	}
	return t.Parsed.GenTime()
}

// Covers reports whether name is part of the timestamp scope.
func (t *Timestamp) Covers(name string) bool {
	for _, entry := range t.Scope {
		if entry.Name == name {
			return true
		}
	}
	return false
}

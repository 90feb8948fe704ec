// Package container holds the parsed model of signature containers: data files,
// signatures with their accumulated evidence, container-level timestamps, and
// nested (composite) containers.
package container

import (
	"errors"
	"fmt"
)

// Type is the declared format of a container.
type Type string

const (
	TypeASiCS Type = "ASICS"
	TypeASiCE Type = "ASICE"
	TypeDDOC  Type = "DDOC"
	TypePAdES Type = "PADES"
)

// MimeType returns the mimetype entry value for ZIP based container types.
func (t Type) MimeType() string {
	switch t {
	case TypeASiCS:
		return MimeTypeASiCS
	case TypeASiCE:
		return MimeTypeASiCE
	case TypeDDOC:
		return MimeTypeDDOC
	case TypePAdES:
		return "application/pdf"
	default:
		return ""
	}
}

// Container mimetypes.
const (
	MimeTypeASiCS          = "application/vnd.etsi.asic-s+zip"
	MimeTypeASiCE          = "application/vnd.etsi.asic-e+zip"
	MimeTypeDDOC           = "application/x-ddoc"
	MimeTypeTimestampToken = "application/vnd.etsi.timestamp-token"
	MimeTypeOctetStream    = "application/octet-stream"
)

// TypeFromMimeType maps a container mimetype to its Type.
func TypeFromMimeType(mimeType string) (Type, bool) {
	switch mimeType {
	case MimeTypeASiCS:
		return TypeASiCS, true
	case MimeTypeASiCE, "application/vnd.etsi.asic-e+zip; charset=UTF-8":
		return TypeASiCE, true
	case MimeTypeDDOC:
		return TypeDDOC, true
	}
	return "", false
}

// Profile is a baseline signature profile.
type Profile string

const (
	ProfileBBES  Profile = "B_BES"
	ProfileBEPES Profile = "B_EPES"
	ProfileT     Profile = "T"
	ProfileLT    Profile = "LT"
	ProfileLTTM  Profile = "LT_TM"
	ProfileLTA   Profile = "LTA"
)

// ParseProfile parses a profile name as written in configuration and reports.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case ProfileBBES, ProfileBEPES, ProfileT, ProfileLT, ProfileLTTM, ProfileLTA:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// HasSignatureTimestamp reports whether signatures of this profile carry a
// signature timestamp.
func (p Profile) HasSignatureTimestamp() bool {
	return p == ProfileT || p == ProfileLT || p == ProfileLTA
}

// HasRevocationData reports whether signatures of this profile embed revocation data.
func (p Profile) HasRevocationData() bool {
	return p == ProfileLT || p == ProfileLTA || p == ProfileLTTM
}

// Format returns the signature format identifier used in reports.
func (p Profile) Format() string {
	switch p {
	case ProfileBBES, ProfileBEPES:
		return "XAdES_BASELINE_B"
	case ProfileT:
		return "XAdES_BASELINE_T"
	case ProfileLT:
		return "XAdES_BASELINE_LT"
	case ProfileLTA:
		return "XAdES_BASELINE_LTA"
	case ProfileLTTM:
		return "DIGIDOC_XML_1.3"
	default:
		return "UNKNOWN"
	}
}

// CoverageType classifies how a timestamp scope entry is covered.
type CoverageType string

const (
	CoverageFullDocument CoverageType = "FULL_DOCUMENT"
	CoverageManifest     CoverageType = "MANIFEST"
)

// Scope entry descriptions.
const (
	DescriptionFullDocument     = "Full document"
	DescriptionManifestDocument = "Manifest document"
)

// Errors
var (
	ErrUnknownProfile      = errors.New("unknown signature profile")
	ErrNestingTooDeep      = errors.New("container nesting exceeds maximum depth")
	ErrSignatureTimestamp  = errors.New("signature already has a signature timestamp")
	ErrNotASiCS            = errors.New("only ASiC-S containers can wrap a nested container")
	ErrNilNestedContainer  = errors.New("nested container is nil")
	ErrDataFileNameMissing = errors.New("data file name is required")
)

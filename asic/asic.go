// Package asic reads and writes ASiC-S and ASiC-E containers and the legacy
// DigiDoc (DDOC) format. Structural defects are detected while opening and
// abort the open with a *StructuralError.
package asic

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/georgepadayatti/goasic/container"
)

// Well-known entry names.
const (
	EntryMimeType        = "mimetype"
	EntryMetaInf         = "META-INF/"
	EntryManifest        = "META-INF/manifest.xml"
	EntryTimestamp       = "META-INF/timestamp.tst"
	EntryArchiveManifest = "META-INF/ASiCArchiveManifest.xml"
	EntryCAdESSignature  = "META-INF/signature.p7s"
)

var (
	timestampEntryRe       = regexp.MustCompile(`^META-INF/timestamp(\d{3})?\.tst$`)
	archiveManifestEntryRe = regexp.MustCompile(`^META-INF/ASiCArchiveManifest(\d{3})?\.xml$`)
	signatureEntryRe       = regexp.MustCompile(`^META-INF/(?:.*)signatures(?:.*)\.xml$`)
	evidenceRecordEntryRe  = regexp.MustCompile(`^META-INF/evidencerecord(?:.*)\.(?:xml|ers)$`)
)

// TimestampEntryName returns the entry name of the k-th container timestamp,
// counting from 1.
func TimestampEntryName(k int) string {
	if k <= 1 {
		return EntryTimestamp
	}
	return fmt.Sprintf("META-INF/timestamp%03d.tst", k)
}

// ArchiveManifestEntryName returns the name of the archive manifest covered
// by the k-th container timestamp. Only tokens from the second onwards have
// one.
func ArchiveManifestEntryName(k int) string {
	if k <= 2 {
		return EntryArchiveManifest
	}
	return fmt.Sprintf("META-INF/ASiCArchiveManifest%03d.xml", k)
}

// nestedExtensions maps file extensions of wrapped containers to their type.
var nestedExtensions = map[string]container.Type{
	".asics": container.TypeASiCS,
	".scs":   container.TypeASiCS,
	".asice": container.TypeASiCE,
	".sce":   container.TypeASiCE,
	".bdoc":  container.TypeASiCE,
	".ddoc":  container.TypeDDOC,
}

// NestedTypeForName returns the container type implied by a data file name.
func NestedTypeForName(name string) (container.Type, bool) {
	t, ok := nestedExtensions[strings.ToLower(path.Ext(name))]
	return t, ok
}

// StructuralErrorKind classifies a structural defect.
type StructuralErrorKind int

const (
	DuplicateEntry StructuralErrorKind = iota + 1
	UnsupportedEntry
	MultipleDataFiles
	MixedEvidence
)

func (k StructuralErrorKind) String() string {
	switch k {
	case DuplicateEntry:
		return "duplicate-entry"
	case UnsupportedEntry:
		return "unsupported-entry"
	case MultipleDataFiles:
		return "multi-datafile"
	case MixedEvidence:
		return "mixed-evidence-types"
	default:
		return "unknown"
	}
}

// Structural error messages.
const (
	MsgTimestampedExactlyOneDataFile = "Timestamped ASiC-S container must contain exactly one datafile"
	MsgMoreThanOneDataFile           = "ASiC-S container cannot contain more than one datafile"
	MsgSignaturesAndTimestamps       = "ASiC-S container cannot contain signatures and timestamp tokens simultaneously"
	MsgMultipleManifests             = "Multiple manifest.xml files disallowed"
	MsgMultipleMimeTypes             = "Multiple mimetype files disallowed"
	msgEvidenceRecord                = "Unsupported evidence record entry: %s"
	msgCAdESSignature                = "Unsupported CAdES signature entry: %s"
	msgDuplicateTimestamp            = "Container contains duplicate timestamp token: %s"
	msgDuplicateArchiveManifest      = "Container contains duplicate timestamp manifest: %s"
)

// StructuralError reports a container that cannot be opened.
type StructuralError struct {
	Kind StructuralErrorKind
	// Entry is the offending entry name, when there is one.
	Entry   string
	Message string
}

func (e *StructuralError) Error() string {
	return e.Message
}

// Is matches another *StructuralError of the same kind, so callers can test
// errors.Is(err, &StructuralError{Kind: DuplicateEntry}).
func (e *StructuralError) Is(target error) bool {
	t, ok := target.(*StructuralError)
	return ok && t.Kind == e.Kind && (t.Entry == "" || t.Entry == e.Entry)
}

func structuralError(kind StructuralErrorKind, entry, message string) *StructuralError {
	return &StructuralError{Kind: kind, Entry: entry, Message: message}
}

// Errors
var (
	ErrNotAContainer    = errors.New("not a signature container")
	ErrUnknownMimeType  = errors.New("unknown container mimetype")
	ErrMalformedXML     = errors.New("malformed container XML")
	ErrUnsupportedWrite = errors.New("container type cannot be written")
)

package asic

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/goasic/container"
)

const msgDuplicateEntry = "Container contains duplicate entry: %s"

// Option configures Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	maxDepth int
}

// WithLogger sets the logger used while opening.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxDepth limits how many nested containers are unwrapped.
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// OpenFile reads and opens the container stored at name.
func OpenFile(name string, opts ...Option) (container.Container, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Open(data, opts...)
}

// Open parses a container. ZIP based containers are checked for structural
// defects; the first defect found aborts the open with a *StructuralError.
// An ASiC-S container whose only data file is itself a container is
// returned as a *container.Composite.
func Open(data []byte, opts ...Option) (container.Container, error) {
	o := &options{logger: slog.Default(), maxDepth: container.MaxNestingDepth}
	for _, opt := range opts {
		opt(o)
	}
	return openLevel(data, 1, o)
}

func openLevel(data []byte, depth int, o *options) (container.Container, error) {
	if IsDDOC(data) {
		return ReadDDOC(data)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAContainer, err)
	}

	s := newEntryScan()
	for _, f := range zr.File {
		if err := s.add(f); err != nil {
			return nil, err
		}
	}
	return s.build(depth, o)
}

type tokenEntry struct {
	name  string
	index int
	data  []byte
}

// entryScan collects the entries of one ZIP level in archive order.
type entryScan struct {
	mimeType         *string
	manifest         []byte
	hasManifest      bool
	dataFiles        []*container.DataFile
	folders          []string
	signatureEntries []string
	signatureData    map[string][]byte
	tokens           []tokenEntry
	tokenDigests     map[[32]byte]bool
	archiveManifests map[string][]byte
	names            map[string]bool
}

func newEntryScan() *entryScan {
	return &entryScan{
		signatureData:    make(map[string][]byte),
		tokenDigests:     make(map[[32]byte]bool),
		archiveManifests: make(map[string][]byte),
		names:            make(map[string]bool),
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, nil
}

func (s *entryScan) add(f *zip.File) error {
	name := norm.NFC.String(f.Name)
	seen := s.names[name]
	s.names[name] = true

	switch {
	case name == EntryMimeType:
		if seen {
			return structuralError(DuplicateEntry, name, MsgMultipleMimeTypes)
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		mt := strings.TrimSpace(string(data))
		s.mimeType = &mt

	case name == EntryManifest:
		if seen {
			return structuralError(DuplicateEntry, name, MsgMultipleManifests)
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		s.manifest, s.hasManifest = data, true

	case timestampEntryRe.MatchString(name):
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(data)
		if seen || s.tokenDigests[digest] {
			return structuralError(DuplicateEntry, name, fmt.Sprintf(msgDuplicateTimestamp, name))
		}
		s.tokenDigests[digest] = true
		index := 1
		if m := timestampEntryRe.FindStringSubmatch(name); m[1] != "" {
			index, _ = strconv.Atoi(m[1])
		}
		s.tokens = append(s.tokens, tokenEntry{name: name, index: index, data: data})

	case archiveManifestEntryRe.MatchString(name):
		if seen {
			return structuralError(DuplicateEntry, name, fmt.Sprintf(msgDuplicateArchiveManifest, name))
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		s.archiveManifests[name] = data

	case evidenceRecordEntryRe.MatchString(name):
		return structuralError(UnsupportedEntry, name, fmt.Sprintf(msgEvidenceRecord, name))

	case name == EntryCAdESSignature:
		return structuralError(UnsupportedEntry, name, fmt.Sprintf(msgCAdESSignature, name))

	case signatureEntryRe.MatchString(name):
		if seen {
			return structuralError(DuplicateEntry, name, fmt.Sprintf(msgDuplicateEntry, name))
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		s.signatureEntries = append(s.signatureEntries, name)
		s.signatureData[name] = data

	case strings.HasPrefix(name, EntryMetaInf):
		// Other metadata is carried by neither model nor checks.

	case strings.HasSuffix(name, "/"):
		s.folders = append(s.folders, name)

	default:
		if seen {
			return structuralError(DuplicateEntry, name, fmt.Sprintf(msgDuplicateEntry, name))
		}
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		s.dataFiles = append(s.dataFiles, container.NewDataFile(name, "", data))
	}
	return nil
}

func (s *entryScan) containerType() (container.Type, error) {
	if s.mimeType != nil {
		t, ok := container.TypeFromMimeType(*s.mimeType)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownMimeType, *s.mimeType)
		}
		return t, nil
	}
	if len(s.tokens) > 0 {
		return container.TypeASiCS, nil
	}
	return container.TypeASiCE, nil
}

// checkASiCS applies the ASiC-S content rules in a fixed order: mixed
// evidence, then data file count.
func (s *entryScan) checkASiCS() error {
	if len(s.signatureEntries) > 0 && len(s.tokens) > 0 {
		return structuralError(MixedEvidence, s.tokens[0].name, MsgSignaturesAndTimestamps)
	}
	payloads := len(s.dataFiles) + len(s.folders)
	if len(s.tokens) > 0 && payloads != 1 {
		return structuralError(MultipleDataFiles, "", MsgTimestampedExactlyOneDataFile)
	}
	if payloads > 1 {
		return structuralError(MultipleDataFiles, "", MsgMoreThanOneDataFile)
	}
	return nil
}

func (s *entryScan) build(depth int, o *options) (container.Container, error) {
	typ, err := s.containerType()
	if err != nil {
		return nil, err
	}
	if typ == container.TypeASiCS {
		if err := s.checkASiCS(); err != nil {
			return nil, err
		}
	}

	level := container.NewSimple(typ)
	var outer container.Container = level
	if s.hasManifest {
		m, err := ParseManifest(s.manifest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EntryManifest, err)
		}
		level.SetManifest(m)
	}

	for _, df := range s.dataFiles {
		df.MimeType = s.dataFileMimeType(level.Manifest(), df.Name)
	}

	if nested := s.nested(typ, depth, o); nested != nil {
		comp, err := container.NewComposite(nested, s.dataFiles[0])
		if err != nil {
			return nil, err
		}
		comp.Outer().SetManifest(level.Manifest())
		level, outer = comp.Outer(), comp
	} else {
		for _, df := range s.dataFiles {
			if err := level.AddDataFile(df); err != nil {
				return nil, structuralError(DuplicateEntry, df.Name, fmt.Sprintf(msgDuplicateEntry, df.Name))
			}
		}
	}

	sort.Strings(s.signatureEntries)
	for _, entry := range s.signatureEntries {
		sigs, err := ParseSignatures(s.signatureData[entry], entry)
		if err != nil {
			return nil, err
		}
		for _, sig := range sigs {
			level.AddSignature(sig)
		}
	}

	for _, ts := range s.timestamps() {
		level.AddTimestamp(ts)
	}
	return outer, nil
}

func (s *entryScan) dataFileMimeType(m *container.Manifest, name string) string {
	if entry, ok := m.Lookup(name); ok && entry.MimeType != "" {
		return entry.MimeType
	}
	return DataFileMimeType(name)
}

// DataFileMimeType guesses the mimetype of a data file from its name.
// Nested container extensions map to the container mimetypes; unknown
// extensions yield application/octet-stream.
func DataFileMimeType(name string) string {
	if t, ok := NestedTypeForName(name); ok {
		return t.MimeType()
	}
	if mt := mime.TypeByExtension(path.Ext(name)); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	return container.MimeTypeOctetStream
}

// nested opens the single data file of an ASiC-S level when it is itself a
// container. A data file that fails to open stays an opaque payload.
func (s *entryScan) nested(typ container.Type, depth int, o *options) container.Container {
	if typ != container.TypeASiCS || len(s.dataFiles) != 1 {
		return nil
	}
	df := s.dataFiles[0]
	if _, ok := NestedTypeForName(df.Name); !ok {
		return nil
	}
	if depth >= o.maxDepth {
		o.logger.Warn("nested container not opened", "entry", df.Name, "depth", depth)
		return nil
	}
	nested, err := openLevel(df.Content(), depth+1, o)
	if err != nil {
		o.logger.Debug("data file is not a readable container", "entry", df.Name, "error", err)
		return nil
	}
	return nested
}

// timestamps rebuilds the container timestamps in creation order. A token
// listed as SigReference of an archive manifest covers that manifest; any
// other token covers the data file directly.
func (s *entryScan) timestamps() []*container.Timestamp {
	sort.SliceStable(s.tokens, func(i, j int) bool { return s.tokens[i].index < s.tokens[j].index })

	manifestFor := make(map[string]string)
	parsed := make(map[string]*ArchiveManifest)
	for name, data := range s.archiveManifests {
		am, err := ParseArchiveManifest(data)
		if err != nil {
			continue
		}
		manifestFor[am.SigReference] = name
		parsed[name] = am
	}

	var out []*container.Timestamp
	for _, tok := range s.tokens {
		if mName, ok := manifestFor[tok.name]; ok {
			out = append(out, container.NewManifestTimestamp(
				tok.name, tok.data, mName, s.archiveManifests[mName], parsed[mName].Scope(mName)))
			continue
		}
		var scope []container.ScopeEntry
		for _, df := range s.dataFiles {
			scope = append(scope, container.ScopeEntry{
				Name:        df.Name,
				Coverage:    container.CoverageFullDocument,
				Description: container.DescriptionFullDocument,
			})
		}
		out = append(out, container.NewTimestamp(tok.name, tok.data, scope))
	}
	return out
}

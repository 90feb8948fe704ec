package container

import (
	"fmt"
	"sync"
)

// Container is implemented by *Simple and *Composite only.
type Container interface {
	Type() Type
	DataFiles() []*DataFile
	Signatures() []*Signature
	Timestamps() []*Timestamp
	// Nested returns the wrapped container of a composite, or nil.
	Nested() Container

	sealed()
}

// ManifestEntry is one file-entry of META-INF/manifest.xml.
type ManifestEntry struct {
	Path     string
	MimeType string
}

// Manifest is the parsed META-INF/manifest.xml.
type Manifest struct {
	Entries []ManifestEntry
}

// Lookup returns the entry declared for path.
func (m *Manifest) Lookup(path string) (ManifestEntry, bool) {
	if m == nil {
		return ManifestEntry{}, false
	}
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Simple is a single level container.
type Simple struct {
	mu         sync.RWMutex
	typ        Type
	dataFiles  []*DataFile
	signatures []*Signature
	timestamps []*Timestamp
	manifest   *Manifest
}

// NewSimple creates an empty container of the given type.
func NewSimple(t Type) *Simple {
	return &Simple{typ: t}
}

func (c *Simple) sealed() {}

// Type returns the container type.
func (c *Simple) Type() Type { return c.typ }

// Nested always returns nil for a simple container.
func (c *Simple) Nested() Container { return nil }

// DataFiles returns the data files in insertion order.
func (c *Simple) DataFiles() []*DataFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*DataFile(nil), c.dataFiles...)
}

// Signatures returns the signatures in insertion order.
func (c *Simple) Signatures() []*Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Signature(nil), c.signatures...)
}

// Timestamps returns the container timestamps in creation order.
func (c *Simple) Timestamps() []*Timestamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Timestamp(nil), c.timestamps...)
}

// Manifest returns the parsed manifest.xml, or nil if the container has none.
func (c *Simple) Manifest() *Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest
}

// SetManifest replaces the manifest.
func (c *Simple) SetManifest(m *Manifest) {
	c.mu.Lock()
	c.manifest = m
	c.mu.Unlock()
}

// AddDataFile appends a data file. Data file ids follow insertion order.
func (c *Simple) AddDataFile(df *DataFile) error {
	if df.Name == "" {
		return ErrDataFileNameMissing
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.dataFiles {
		if existing.Name == df.Name {
			return fmt.Errorf("data file %q already exists in container", df.Name)
		}
	}
	if df.ID == "" {
		df.ID = fmt.Sprintf("D%d", len(c.dataFiles))
	}
	c.dataFiles = append(c.dataFiles, df)
	return nil
}

// AddSignature appends a signature.
func (c *Simple) AddSignature(sig *Signature) {
	c.mu.Lock()
	c.signatures = append(c.signatures, sig)
	c.mu.Unlock()
}

// AddTimestamp appends a container level timestamp.
func (c *Simple) AddTimestamp(ts *Timestamp) {
	c.mu.Lock()
	c.timestamps = append(c.timestamps, ts)
	c.mu.Unlock()
}

// DataFile returns the data file with the given name.
func (c *Simple) DataFile(name string) (*DataFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, df := range c.dataFiles {
		if df.Name == name {
			return df, true
		}
	}
	return nil, false
}

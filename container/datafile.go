package container

import (
	"bytes"
	"crypto"
	"io"
)

// DataFile is a signed or timestamped payload. Its content is fixed once the
// data file is added to a container.
type DataFile struct {
	ID       string
	Name     string
	MimeType string
	content  []byte
}

// NewDataFile creates a data file holding a private copy of content.
func NewDataFile(name, mimeType string, content []byte) *DataFile {
	if mimeType == "" {
		mimeType = MimeTypeOctetStream
	}
	return &DataFile{
		Name:     name,
		MimeType: mimeType,
		content:  bytes.Clone(content),
	}
}

// Content returns a copy of the data file bytes.
func (d *DataFile) Content() []byte {
	return bytes.Clone(d.content)
}

// Reader returns a reader over the data file bytes.
func (d *DataFile) Reader() io.Reader {
	return bytes.NewReader(d.content)
}

// Size returns the content length in bytes.
func (d *DataFile) Size() int {
	return len(d.content)
}

// Digest computes the digest of the content with h.
func (d *DataFile) Digest(h crypto.Hash) []byte {
	hasher := h.New()
	hasher.Write(d.content)
	return hasher.Sum(nil)
}

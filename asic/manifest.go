package asic

import (
	"bytes"
	"crypto"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goasic/container"
)

// XML namespaces.
const (
	NamespaceManifest = "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"
	NamespaceASiC     = "http://uri.etsi.org/02918/v1.2.1#"
	NamespaceDSig     = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES    = "http://uri.etsi.org/01903/v1.3.2#"
)

var digestURIs = map[crypto.Hash]string{
	crypto.SHA1:     "http://www.w3.org/2000/09/xmldsig#sha1",
	crypto.SHA256:   "http://www.w3.org/2001/04/xmlenc#sha256",
	crypto.SHA384:   "http://www.w3.org/2001/04/xmldsig-more#sha384",
	crypto.SHA512:   "http://www.w3.org/2001/04/xmlenc#sha512",
	crypto.SHA3_256: "http://www.w3.org/2007/05/xmldsig-more#sha3-256",
	crypto.SHA3_384: "http://www.w3.org/2007/05/xmldsig-more#sha3-384",
	crypto.SHA3_512: "http://www.w3.org/2007/05/xmldsig-more#sha3-512",
}

// DigestAlgorithmURI returns the XML-DSig identifier of h.
func DigestAlgorithmURI(h crypto.Hash) (string, error) {
	uri, ok := digestURIs[h]
	if !ok {
		return "", fmt.Errorf("no XML digest identifier for %v", h)
	}
	return uri, nil
}

// DigestAlgorithmFromURI maps an XML-DSig digest identifier back to a hash.
func DigestAlgorithmFromURI(uri string) (crypto.Hash, error) {
	for h, u := range digestURIs {
		if u == uri {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unsupported digest algorithm %q", uri)
}

func newXMLDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="no"`)
	return doc
}

func serialize(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	return doc.WriteToBytes()
}

func parseXML(data []byte, root string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}
	el := doc.Root()
	if el == nil || el.Tag != root {
		return nil, fmt.Errorf("%w: expected root element %s", ErrMalformedXML, root)
	}
	return el, nil
}

// BuildManifest encodes META-INF/manifest.xml for a container of type t.
func BuildManifest(t container.Type, m *container.Manifest) ([]byte, error) {
	doc := newXMLDocument()
	root := doc.CreateElement("manifest:manifest")
	root.CreateAttr("xmlns:manifest", NamespaceManifest)
	root.CreateAttr("manifest:version", "1.2")

	entry := root.CreateElement("manifest:file-entry")
	entry.CreateAttr("manifest:full-path", "/")
	entry.CreateAttr("manifest:media-type", t.MimeType())
	for _, e := range m.Entries {
		entry := root.CreateElement("manifest:file-entry")
		entry.CreateAttr("manifest:full-path", e.Path)
		entry.CreateAttr("manifest:media-type", e.MimeType)
	}
	return serialize(doc)
}

// ManifestFor lists every data file of c with its own mimetype.
func ManifestFor(dataFiles []*container.DataFile) *container.Manifest {
	m := &container.Manifest{}
	for _, df := range dataFiles {
		m.Entries = append(m.Entries, container.ManifestEntry{Path: df.Name, MimeType: df.MimeType})
	}
	return m
}

// ParseManifest decodes META-INF/manifest.xml. The root entry "/" is
// dropped.
func ParseManifest(data []byte) (*container.Manifest, error) {
	root, err := parseXML(data, "manifest")
	if err != nil {
		return nil, err
	}
	m := &container.Manifest{}
	for _, e := range root.SelectElements("file-entry") {
		p := e.SelectAttrValue("manifest:full-path", e.SelectAttrValue("full-path", ""))
		if p == "" || p == "/" {
			continue
		}
		m.Entries = append(m.Entries, container.ManifestEntry{
			Path:     p,
			MimeType: e.SelectAttrValue("manifest:media-type", e.SelectAttrValue("media-type", "")),
		})
	}
	return m, nil
}

// ArchiveReference is one DataObjectReference of an ASiC archive manifest.
type ArchiveReference struct {
	URI             string
	MimeType        string
	DigestAlgorithm crypto.Hash
	Digest          []byte
}

// ArchiveManifest is a parsed META-INF/ASiCArchiveManifest*.xml.
type ArchiveManifest struct {
	// SigReference is the timestamp token entry that covers this manifest.
	SigReference string
	References   []ArchiveReference
}

// NewArchiveReference digests content for inclusion in an archive manifest.
func NewArchiveReference(uri, mimeType string, h crypto.Hash, content []byte) ArchiveReference {
	hasher := h.New()
	hasher.Write(content)
	return ArchiveReference{URI: uri, MimeType: mimeType, DigestAlgorithm: h, Digest: hasher.Sum(nil)}
}

// Matches reports whether content has the referenced digest.
func (r ArchiveReference) Matches(content []byte) bool {
	if !r.DigestAlgorithm.Available() {
		return false
	}
	hasher := r.DigestAlgorithm.New()
	hasher.Write(content)
	return bytes.Equal(hasher.Sum(nil), r.Digest)
}

// Encode serializes the manifest.
func (m *ArchiveManifest) Encode() ([]byte, error) {
	doc := newXMLDocument()
	root := doc.CreateElement("asic:ASiCManifest")
	root.CreateAttr("xmlns:asic", NamespaceASiC)
	root.CreateAttr("xmlns:ds", NamespaceDSig)

	sigRef := root.CreateElement("asic:SigReference")
	sigRef.CreateAttr("URI", m.SigReference)
	sigRef.CreateAttr("MimeType", container.MimeTypeTimestampToken)

	for _, ref := range m.References {
		uri, err := DigestAlgorithmURI(ref.DigestAlgorithm)
		if err != nil {
			return nil, err
		}
		el := root.CreateElement("asic:DataObjectReference")
		el.CreateAttr("URI", ref.URI)
		if ref.MimeType != "" {
			el.CreateAttr("MimeType", ref.MimeType)
		}
		el.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", uri)
		el.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(ref.Digest))
	}
	return serialize(doc)
}

// ParseArchiveManifest decodes an ASiC archive manifest.
func ParseArchiveManifest(data []byte) (*ArchiveManifest, error) {
	root, err := parseXML(data, "ASiCManifest")
	if err != nil {
		return nil, err
	}
	m := &ArchiveManifest{}
	if sigRef := root.SelectElement("SigReference"); sigRef != nil {
		m.SigReference = sigRef.SelectAttrValue("URI", "")
	}
	if m.SigReference == "" {
		return nil, fmt.Errorf("%w: archive manifest has no SigReference", ErrMalformedXML)
	}
	for _, el := range root.SelectElements("DataObjectReference") {
		ref := ArchiveReference{
			URI:      el.SelectAttrValue("URI", ""),
			MimeType: el.SelectAttrValue("MimeType", ""),
		}
		if dm := el.SelectElement("DigestMethod"); dm != nil {
			h, err := DigestAlgorithmFromURI(dm.SelectAttrValue("Algorithm", ""))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
			}
			ref.DigestAlgorithm = h
		}
		if dv := el.SelectElement("DigestValue"); dv != nil {
			digest, err := base64.StdEncoding.DecodeString(strings.TrimSpace(dv.Text()))
			if err != nil {
				return nil, fmt.Errorf("%w: digest of %s: %v", ErrMalformedXML, ref.URI, err)
			}
			ref.Digest = digest
		}
		m.References = append(m.References, ref)
	}
	return m, nil
}

// Scope returns the timestamp scope implied by the manifest: the manifest
// itself, then every referenced entry in order.
func (m *ArchiveManifest) Scope(manifestName string) []container.ScopeEntry {
	scope := []container.ScopeEntry{{
		Name:        manifestName,
		Coverage:    container.CoverageFullDocument,
		Description: container.DescriptionManifestDocument,
	}}
	for _, ref := range m.References {
		scope = append(scope, container.ScopeEntry{
			Name:        ref.URI,
			Coverage:    container.CoverageFullDocument,
			Description: container.DescriptionFullDocument,
		})
	}
	return scope
}

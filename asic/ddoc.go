package asic

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
)

// NamespaceDDOC is the DigiDoc 1.3 namespace.
const NamespaceDDOC = "http://www.sk.ee/DigiDoc/v1.3.0#"

const ddocTimeLayout = "2006-01-02T15:04:05Z"

// IsDDOC reports whether data looks like a DigiDoc XML document.
func IsDDOC(data []byte) bool {
	if bytes.HasPrefix(data, []byte("PK")) {
		return false
	}
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<SignedDoc"))
}

// ReadDDOC parses a DigiDoc 1.3 document. Its signatures are time-mark
// signatures and are given the LT_TM profile.
func ReadDDOC(data []byte) (*container.Simple, error) {
	root, err := parseXML(data, "SignedDoc")
	if err != nil {
		return nil, err
	}
	c := container.NewSimple(container.TypeDDOC)

	byID := make(map[string]string)
	for _, el := range root.SelectElements("DataFile") {
		name := el.SelectAttrValue("Filename", "")
		content, err := decodeBase64(el)
		if err != nil {
			return nil, fmt.Errorf("%w: data file %s: %v", ErrMalformedXML, name, err)
		}
		df := container.NewDataFile(name, el.SelectAttrValue("MimeType", ""), content)
		df.ID = el.SelectAttrValue("Id", "")
		if err := c.AddDataFile(df); err != nil {
			return nil, structuralError(DuplicateEntry, name, fmt.Sprintf(msgDuplicateEntry, name))
		}
		byID[df.ID] = name
	}

	for _, el := range root.SelectElements("Signature") {
		sig, err := readDDOCSignature(el, byID)
		if err != nil {
			return nil, err
		}
		c.AddSignature(sig)
	}
	return c, nil
}

func readDDOCSignature(el *etree.Element, dataFiles map[string]string) (*container.Signature, error) {
	id := el.SelectAttrValue("Id", "")
	sig := container.NewSignature(id, container.ProfileLTTM)

	if si := el.SelectElement("SignedInfo"); si != nil {
		for _, r := range si.SelectElements("Reference") {
			name, ok := dataFiles[strings.TrimPrefix(r.SelectAttrValue("URI", ""), "#")]
			if !ok {
				continue
			}
			digest, err := decodeBase64(r.SelectElement("DigestValue"))
			if err != nil {
				return nil, fmt.Errorf("%w: DDOC reference digest: %v", ErrMalformedXML, err)
			}
			sig.References = append(sig.References, container.Reference{
				URI:             name,
				DigestAlgorithm: crypto.SHA1,
				Digest:          digest,
			})
		}
	}

	value, err := decodeBase64(el.SelectElement("SignatureValue"))
	if err != nil {
		return nil, fmt.Errorf("%w: DDOC signature value: %v", ErrMalformedXML, err)
	}
	sig.SignatureValue = value

	if c := el.FindElement("./KeyInfo/X509Data/X509Certificate"); c != nil {
		der, err := decodeBase64(c)
		if err != nil {
			return nil, fmt.Errorf("%w: DDOC certificate: %v", ErrMalformedXML, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("DDOC signature %s: %w", id, err)
		}
		sig.SigningCertificate = cert
	}
	if st := findText(el, ".//SigningTime"); st != "" {
		if t, err := time.Parse(ddocTimeLayout, st); err == nil {
			sig.SigningTime = t
		}
	}
	for _, e := range el.FindElements(".//OCSPValues/EncapsulatedOCSPValue") {
		raw, err := decodeBase64(e)
		if err != nil {
			return nil, fmt.Errorf("%w: DDOC OCSP value: %v", ErrMalformedXML, err)
		}
		token, err := revinfo.NewOCSPToken(raw, nil, "")
		if err != nil {
			return nil, fmt.Errorf("DDOC signature %s: %w", id, err)
		}
		sig.AddOCSPResponse(token)
	}
	return sig, nil
}

// EncodeDDOC writes c as a DigiDoc 1.3 document.
func EncodeDDOC(c container.Container) ([]byte, error) {
	doc := newXMLDocument()
	root := doc.CreateElement("SignedDoc")
	root.CreateAttr("xmlns", NamespaceDDOC)
	root.CreateAttr("format", "DIGIDOC-XML")
	root.CreateAttr("version", "1.3")

	ids := make(map[string]string)
	for i, df := range c.DataFiles() {
		id := df.ID
		if id == "" {
			id = "D" + strconv.Itoa(i)
		}
		ids[df.Name] = id
		el := root.CreateElement("DataFile")
		el.CreateAttr("ContentType", "EMBEDDED_BASE64")
		el.CreateAttr("Filename", df.Name)
		el.CreateAttr("Id", id)
		el.CreateAttr("MimeType", df.MimeType)
		el.CreateAttr("Size", strconv.Itoa(df.Size()))
		el.SetText(base64.StdEncoding.EncodeToString(df.Content()))
	}

	for _, sig := range c.Signatures() {
		el := root.CreateElement("Signature")
		el.CreateAttr("Id", sig.ID)
		si := el.CreateElement("SignedInfo")
		for _, ref := range sig.References {
			r := si.CreateElement("Reference")
			r.CreateAttr("URI", "#"+ids[ref.URI])
			r.CreateElement("DigestMethod").CreateAttr("Algorithm", digestURIs[crypto.SHA1])
			r.CreateElement("DigestValue").SetText(base64.StdEncoding.EncodeToString(ref.Digest))
		}
		el.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(sig.SignatureValue))
		if sig.SigningCertificate != nil {
			el.CreateElement("KeyInfo").CreateElement("X509Data").CreateElement("X509Certificate").
				SetText(base64.StdEncoding.EncodeToString(sig.SigningCertificate.Raw))
		}
		qp := el.CreateElement("Object").CreateElement("QualifyingProperties")
		qp.CreateElement("SignedProperties").CreateElement("SignedSignatureProperties").
			CreateElement("SigningTime").SetText(sig.SigningTime.UTC().Format(ddocTimeLayout))
		if ocsps := sig.Evidence().OCSPResponses(); len(ocsps) > 0 {
			values := qp.CreateElement("UnsignedProperties").CreateElement("UnsignedSignatureProperties").
				CreateElement("RevocationValues").CreateElement("OCSPValues")
			for _, token := range ocsps {
				values.CreateElement("EncapsulatedOCSPValue").SetText(base64.StdEncoding.EncodeToString(token.Raw))
			}
		}
	}
	return serialize(doc)
}

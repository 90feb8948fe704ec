package asic

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/container"
)

// EncodeSignatures writes the XAdES signatures document holding sigs.
func EncodeSignatures(sigs []*container.Signature) ([]byte, error) {
	doc := newXMLDocument()
	root := doc.CreateElement("asic:XAdESSignatures")
	root.CreateAttr("xmlns:asic", NamespaceASiC)
	root.CreateAttr("xmlns:ds", NamespaceDSig)
	root.CreateAttr("xmlns:xades", NamespaceXAdES)

	for _, sig := range sigs {
		if err := encodeSignature(root, sig); err != nil {
			return nil, fmt.Errorf("encode signature %s: %w", sig.ID, err)
		}
	}
	return serialize(doc)
}

func referenceID(sigID string, i int) string {
	return fmt.Sprintf("r-%s-%d", sigID, i)
}

func encodeSignature(root *etree.Element, sig *container.Signature) error {
	el := root.CreateElement("ds:Signature")
	el.CreateAttr("Id", sig.ID)

	signedInfo := el.CreateElement("ds:SignedInfo")
	for i, ref := range sig.References {
		uri, err := DigestAlgorithmURI(ref.DigestAlgorithm)
		if err != nil {
			return err
		}
		r := signedInfo.CreateElement("ds:Reference")
		r.CreateAttr("Id", referenceID(sig.ID, i))
		r.CreateAttr("URI", ref.URI)
		r.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", uri)
		r.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(ref.Digest))
	}
	el.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(sig.SignatureValue))

	x509Data := el.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	if sig.SigningCertificate != nil {
		x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(sig.SigningCertificate.Raw))
	}
	for _, cert := range sig.CertificateChain {
		x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	}

	qp := el.CreateElement("ds:Object").CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("Target", "#"+sig.ID)
	signedProps := qp.CreateElement("xades:SignedProperties")
	ssp := signedProps.CreateElement("xades:SignedSignatureProperties")
	ssp.CreateElement("xades:SigningTime").SetText(sig.SigningTime.UTC().Format(time.RFC3339))
	if sig.PolicyID != "" {
		ssp.CreateElement("xades:SignaturePolicyIdentifier").
			CreateElement("xades:SignaturePolicyId").
			CreateElement("xades:SigPolicyId").
			CreateElement("xades:Identifier").SetText(sig.PolicyID)
	}
	sdop := signedProps.CreateElement("xades:SignedDataObjectProperties")
	for i, ref := range sig.References {
		dof := sdop.CreateElement("xades:DataObjectFormat")
		dof.CreateAttr("ObjectReference", "#"+referenceID(sig.ID, i))
		dof.CreateElement("xades:MimeType").SetText(ref.MimeType)
	}

	ev := sig.Evidence()
	if ev.SignatureTimestamp() == nil && len(ev.OCSPResponses()) == 0 && len(ev.ArchiveTimestamps()) == 0 {
		return nil
	}
	usp := qp.CreateElement("xades:UnsignedProperties").CreateElement("xades:UnsignedSignatureProperties")
	if ts := ev.SignatureTimestamp(); ts != nil {
		usp.CreateElement("xades:SignatureTimeStamp").
			CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(ts.Token))
	}
	if ocsps := ev.OCSPResponses(); len(ocsps) > 0 {
		values := usp.CreateElement("xades:RevocationValues").CreateElement("xades:OCSPValues")
		for _, token := range ocsps {
			values.CreateElement("xades:EncapsulatedOCSPValue").SetText(base64.StdEncoding.EncodeToString(token.Raw))
		}
	}
	for _, ts := range ev.ArchiveTimestamps() {
		usp.CreateElement("xades:ArchiveTimeStamp").
			CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(ts.Token))
	}
	return nil
}

// ParseSignatures decodes a XAdES signatures document. The profile of each
// signature follows from the evidence it carries.
func ParseSignatures(data []byte, entryName string) ([]*container.Signature, error) {
	root, err := parseXML(data, "XAdESSignatures")
	if err != nil {
		return nil, err
	}
	var sigs []*container.Signature
	for _, el := range root.SelectElements("Signature") {
		sig, err := parseSignature(el)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entryName, err)
		}
		sig.EntryName = entryName
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func decodeBase64(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(el.Text()), ""))
}

func findText(el *etree.Element, p string) string {
	if found := el.FindElement(p); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

func parseSignature(el *etree.Element) (*container.Signature, error) {
	id := el.SelectAttrValue("Id", "")
	if id == "" {
		return nil, fmt.Errorf("%w: signature without Id", ErrMalformedXML)
	}

	mimeTypes := make(map[string]string)
	for _, dof := range el.FindElements(".//DataObjectFormat") {
		ref := strings.TrimPrefix(dof.SelectAttrValue("ObjectReference", ""), "#")
		mimeTypes[ref] = findText(dof, "MimeType")
	}

	var refs []container.Reference
	if si := el.SelectElement("SignedInfo"); si != nil {
		for _, r := range si.SelectElements("Reference") {
			ref := container.Reference{URI: r.SelectAttrValue("URI", "")}
			if dm := r.SelectElement("DigestMethod"); dm != nil {
				h, err := DigestAlgorithmFromURI(dm.SelectAttrValue("Algorithm", ""))
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
				}
				ref.DigestAlgorithm = h
			}
			digest, err := decodeBase64(r.SelectElement("DigestValue"))
			if err != nil {
				return nil, fmt.Errorf("%w: digest of %s: %v", ErrMalformedXML, ref.URI, err)
			}
			ref.Digest = digest
			ref.MimeType = mimeTypes[r.SelectAttrValue("Id", "")]
			refs = append(refs, ref)
		}
	}

	sigValue, err := decodeBase64(el.SelectElement("SignatureValue"))
	if err != nil {
		return nil, fmt.Errorf("%w: signature value: %v", ErrMalformedXML, err)
	}

	var certs []*x509.Certificate
	for _, c := range el.FindElements("./KeyInfo/X509Data/X509Certificate") {
		der, err := decodeBase64(c)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate: %v", ErrMalformedXML, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse certificate of %s: %w", id, err)
		}
		certs = append(certs, cert)
	}

	var signingTime time.Time
	if st := findText(el, ".//SigningTime"); st != "" {
		signingTime, err = time.Parse(time.RFC3339, st)
		if err != nil {
			return nil, fmt.Errorf("%w: signing time: %v", ErrMalformedXML, err)
		}
	}

	var (
		sigTS    *container.Timestamp
		ocsps    []*revinfo.OCSPToken
		archives []*container.Timestamp
	)
	if e := el.FindElement(".//SignatureTimeStamp/EncapsulatedTimeStamp"); e != nil {
		token, err := decodeBase64(e)
		if err != nil {
			return nil, fmt.Errorf("%w: signature timestamp: %v", ErrMalformedXML, err)
		}
		sigTS = container.NewTimestamp("", token, nil)
	}
	for _, e := range el.FindElements(".//OCSPValues/EncapsulatedOCSPValue") {
		raw, err := decodeBase64(e)
		if err != nil {
			return nil, fmt.Errorf("%w: OCSP value: %v", ErrMalformedXML, err)
		}
		token, err := revinfo.NewOCSPToken(raw, nil, "")
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", id, err)
		}
		ocsps = append(ocsps, token)
	}
	for _, e := range el.FindElements(".//ArchiveTimeStamp/EncapsulatedTimeStamp") {
		token, err := decodeBase64(e)
		if err != nil {
			return nil, fmt.Errorf("%w: archive timestamp: %v", ErrMalformedXML, err)
		}
		archives = append(archives, container.NewTimestamp("", token, nil))
	}

	policy := findText(el, ".//SignaturePolicyIdentifier//Identifier")
	sig := container.NewSignature(id, profileFromEvidence(policy != "", sigTS != nil, len(ocsps) > 0, len(archives) > 0))
	sig.References = refs
	sig.SignatureValue = sigValue
	sig.SigningTime = signingTime
	sig.PolicyID = policy
	if len(certs) > 0 {
		sig.SigningCertificate = certs[0]
		sig.CertificateChain = certs[1:]
	}
	if sigTS != nil {
		if err := sig.SetSignatureTimestamp(sigTS); err != nil {
			return nil, err
		}
	}
	for _, token := range ocsps {
		sig.AddOCSPResponse(token)
	}
	for _, ts := range archives {
		sig.AddArchiveTimestamp(ts)
	}
	return sig, nil
}

func profileFromEvidence(policy, sigTS, ocsp, archive bool) container.Profile {
	switch {
	case archive:
		return container.ProfileLTA
	case ocsp && sigTS:
		return container.ProfileLT
	case sigTS:
		return container.ProfileT
	case policy:
		return container.ProfileBEPES
	default:
		return container.ProfileBBES
	}
}

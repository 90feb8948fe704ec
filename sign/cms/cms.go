// Package cms provides the CMS (Cryptographic Message Syntax) SignedData
// plumbing used by timestamp tokens.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// OIDs for CMS and signature algorithms
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// Digest algorithms
	OIDSHA256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}

	// Signature algorithms
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	// Signed attributes
	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
	ErrNoSignerInfo         = errors.New("no signer infos")
	ErrDigestMismatch       = errors.New("message digest mismatch")
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// EncapsulatedContentInfo represents encapsulated content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// SignerInfoRaw keeps the signed attributes as encoded so that the exact
// signed bytes can be reconstructed.
type SignerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// SignedDataRaw is SignedData with certificates and signer infos left encoded.
type SignedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// ParseSignedData decodes a ContentInfo wrapping SignedData.
func ParseSignedData(data []byte) (*SignedDataRaw, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(data, &contentInfo); err != nil {
		return nil, fmt.Errorf("failed to parse ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("expected SignedData, got %v", contentInfo.ContentType)
	}
	var sd SignedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("failed to parse SignedData: %w", err)
	}
	return &sd, nil
}

// Content returns the encapsulated content octets.
func (sd *SignedDataRaw) Content() ([]byte, error) {
	raw := sd.EncapContentInfo.EContent.Bytes
	if len(raw) == 0 {
		return nil, errors.New("no encapsulated content")
	}
	var octets []byte
	if rest, err := asn1.Unmarshal(raw, &octets); err == nil && len(rest) == 0 {
		return octets, nil
	}
	// Some producers omit the OCTET STRING wrapper.
	return raw, nil
}

// ParsedCertificates returns the certificates that decode successfully.
func (sd *SignedDataRaw) ParsedCertificates() []*x509.Certificate {
	var certs []*x509.Certificate
	for _, certRaw := range sd.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// FirstSignerInfo decodes the first SignerInfo.
func (sd *SignedDataRaw) FirstSignerInfo() (*SignerInfoRaw, error) {
	if len(sd.SignerInfos) == 0 {
		return nil, ErrNoSignerInfo
	}
	var si SignerInfoRaw
	if _, err := asn1.Unmarshal(sd.SignerInfos[0].FullBytes, &si); err != nil {
		return nil, fmt.Errorf("failed to parse SignerInfo: %w", err)
	}
	return &si, nil
}

// SignerCertificate finds the certificate matching the SignerInfo.
func (sd *SignedDataRaw) SignerCertificate(si *SignerInfoRaw) (*x509.Certificate, error) {
	for _, cert := range sd.ParsedCertificates() {
		if si.SID.SerialNumber == nil || cert.SerialNumber.Cmp(si.SID.SerialNumber) != 0 {
			continue
		}
		if len(si.SID.Issuer.FullBytes) > 0 && !bytes.Equal(cert.RawIssuer, si.SID.Issuer.FullBytes) {
			continue
		}
		return cert, nil
	}
	return nil, ErrMissingCertificate
}

// VerifySignedData checks the first SignerInfo of an attached SignedData: the
// messageDigest attribute must match the encapsulated content and the
// signature must verify over the signed attributes. It returns the signer
// certificate.
func VerifySignedData(data []byte) (*x509.Certificate, error) {
	sd, err := ParseSignedData(data)
	if err != nil {
		return nil, err
	}
	si, err := sd.FirstSignerInfo()
	if err != nil {
		return nil, err
	}
	signerCert, err := sd.SignerCertificate(si)
	if err != nil {
		return nil, err
	}
	content, err := sd.Content()
	if err != nil {
		return nil, err
	}

	hashType, err := HashFromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}
	if len(si.SignedAttrs.Bytes) == 0 {
		return nil, errors.New("signed attributes missing")
	}

	var foundDigest []byte
	rest := si.SignedAttrs.Bytes
	for len(rest) > 0 {
		var attr Attribute
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signed attribute: %w", err)
		}
		if attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0 {
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &foundDigest); err != nil {
				return nil, fmt.Errorf("failed to parse message digest: %w", err)
			}
		}
	}
	if foundDigest == nil {
		return nil, errors.New("message digest attribute not found")
	}

	h := hashType.New()
	h.Write(content)
	if !bytes.Equal(h.Sum(nil), foundDigest) {
		return nil, ErrDigestMismatch
	}

	// The signature covers the attributes encoded as a SET, not with the
	// implicit [0] tag they carry inside SignerInfo.
	signedAttrsBytes := bytes.Clone(si.SignedAttrs.FullBytes)
	signedAttrsBytes[0] = 0x31

	h = hashType.New()
	h.Write(signedAttrsBytes)
	if err := verifySignature(signerCert.PublicKey, hashType, h.Sum(nil), si.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return signerCert, nil
}

// SignedDataBuilder produces attached SignedData structures.
type SignedDataBuilder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Hash        crypto.Hash
	ContentType asn1.ObjectIdentifier
	ExtraSigned []Attribute
}

// NewSignedDataBuilder creates a SHA-256 builder for the given content type.
func NewSignedDataBuilder(cert *x509.Certificate, key crypto.Signer, contentType asn1.ObjectIdentifier) *SignedDataBuilder {
	return &SignedDataBuilder{
		Certificate: cert,
		PrivateKey:  key,
		Hash:        crypto.SHA256,
		ContentType: contentType,
	}
}

// Build signs content and returns the DER encoded ContentInfo.
func (b *SignedDataBuilder) Build(content []byte) ([]byte, error) {
	digestOID, err := OIDFromHash(b.Hash)
	if err != nil {
		return nil, err
	}
	sigAlg, err := signatureAlgorithm(b.PrivateKey.Public(), b.Hash)
	if err != nil {
		return nil, err
	}

	h := b.Hash.New()
	h.Write(content)
	contentTypeValue, err := asn1.Marshal(b.ContentType)
	if err != nil {
		return nil, err
	}
	digestValue, err := asn1.Marshal(h.Sum(nil))
	if err != nil {
		return nil, err
	}
	attrs := []Attribute{
		{Type: OIDContentType, Values: []asn1.RawValue{{FullBytes: contentTypeValue}}},
		{Type: OIDMessageDigest, Values: []asn1.RawValue{{FullBytes: digestValue}}},
	}
	attrs = append(attrs, b.ExtraSigned...)

	setBytes, implicitBytes, err := marshalAttributeSet(attrs)
	if err != nil {
		return nil, err
	}

	h = b.Hash.New()
	h.Write(setBytes)
	signature, err := b.PrivateKey.Sign(rand.Reader, h.Sum(nil), b.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	digestAlg := AlgorithmIdentifier{Algorithm: digestOID, Parameters: asn1.RawValue{Tag: 5}}
	si := struct {
		Version            int
		SID                IssuerAndSerialNumber
		DigestAlgorithm    AlgorithmIdentifier
		SignedAttrs        asn1.RawValue
		SignatureAlgorithm AlgorithmIdentifier
		Signature          []byte
	}{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlg,
		SignedAttrs:        asn1.RawValue{FullBytes: implicitBytes},
		SignatureAlgorithm: sigAlg,
		Signature:          signature,
	}
	siBytes, err := asn1.Marshal(si)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SignerInfo: %w", err)
	}

	octets, err := asn1.Marshal(content)
	if err != nil {
		return nil, err
	}
	sd := SignedDataRaw{
		Version:          3,
		DigestAlgorithms: []AlgorithmIdentifier{digestAlg},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: b.ContentType,
			EContent:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets},
		},
		SignerInfos: []asn1.RawValue{{FullBytes: siBytes}},
	}
	sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: cert.Raw})
	}
	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdBytes},
	})
}

// marshalAttributeSet DER encodes attrs as a SET OF (for signing) and as the
// implicitly tagged [0] field carried inside SignerInfo.
func marshalAttributeSet(attrs []Attribute) (set, implicit []byte, err error) {
	encoded := make([][]byte, 0, len(attrs))
	for _, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal attribute %v: %w", attr.Type, err)
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	body := bytes.Join(encoded, nil)

	set, err = asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body})
	if err != nil {
		return nil, nil, err
	}
	implicit, err = asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: body})
	if err != nil {
		return nil, nil, err
	}
	return set, implicit, nil
}

func signatureAlgorithm(pub crypto.PublicKey, h crypto.Hash) (AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		oid := map[crypto.Hash]asn1.ObjectIdentifier{
			crypto.SHA256: OIDSHA256WithRSA,
			crypto.SHA384: OIDSHA384WithRSA,
			crypto.SHA512: OIDSHA512WithRSA,
		}[h]
		if oid == nil {
			return AlgorithmIdentifier{}, fmt.Errorf("%w: RSA with %v", ErrUnsupportedAlgorithm, h)
		}
		return AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.RawValue{Tag: 5}}, nil
	case *ecdsa.PublicKey:
		oid := map[crypto.Hash]asn1.ObjectIdentifier{
			crypto.SHA256: OIDECDSAWithSHA256,
			crypto.SHA384: OIDECDSAWithSHA384,
			crypto.SHA512: OIDECDSAWithSHA512,
		}[h]
		if oid == nil {
			return AlgorithmIdentifier{}, fmt.Errorf("%w: ECDSA with %v", ErrUnsupportedAlgorithm, h)
		}
		return AlgorithmIdentifier{Algorithm: oid}, nil
	default:
		return AlgorithmIdentifier{}, fmt.Errorf("%w: unsupported key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// HashFromOID maps a digest algorithm OID to a crypto.Hash.
func HashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

// OIDFromHash maps a crypto.Hash to its digest algorithm OID.
func OIDFromHash(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return OIDSHA256, nil
	case crypto.SHA384:
		return OIDSHA384, nil
	case crypto.SHA512:
		return OIDSHA512, nil
	case crypto.SHA3_256:
		return OIDSHA3_256, nil
	case crypto.SHA3_512:
		return OIDSHA3_512, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, h)
	}
}

// VerifyDigestSignature verifies sig over digest with pub.
func VerifyDigestSignature(pub crypto.PublicKey, hashType crypto.Hash, digest, sig []byte) error {
	return verifySignature(pub, hashType, digest, sig)
}

// verifySignature verifies a signature using the public key.
func verifySignature(pub interface{}, hashType crypto.Hash, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, hashType, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return errors.New("ECDSA verification failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type", ErrUnsupportedAlgorithm)
	}
}

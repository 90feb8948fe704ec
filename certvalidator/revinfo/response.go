package revinfo

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OIDs used in OCSP responses (RFC 6960).
var (
	oidOCSPBasic          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}
	oidSHA1               = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256WithRSA      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidECDSAWithSHA256    = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384    = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512    = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	errNoResponses        = errors.New("no responses added")
	errUnsupportedKeyType = errors.New("unsupported responder key type")
)

// OCSPResponse ::= SEQUENCE {
//
//	responseStatus         OCSPResponseStatus,
//	responseBytes          [0] EXPLICIT ResponseBytes OPTIONAL }
type ocspResponseASN1 struct {
	Status        asn1.Enumerated
	ResponseBytes responseBytesASN1 `asn1:"explicit,tag:0"`
}

type responseBytesASN1 struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type basicResponseASN1 struct {
	TBSResponseData    asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
}

type responseDataASN1 struct {
	Version     int `asn1:"optional,explicit,tag:0,default:0"`
	ResponderID asn1.RawValue
	ProducedAt  time.Time `asn1:"generalized"`
	Responses   []singleResponseASN1
}

type certIDASN1 struct {
	HashAlgorithm  pkix.AlgorithmIdentifier
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
}

type revokedInfoASN1 struct {
	RevocationTime time.Time       `asn1:"generalized"`
	Reason         asn1.Enumerated `asn1:"explicit,tag:0,optional"`
}

type singleResponseASN1 struct {
	CertID     certIDASN1
	Good       asn1.Flag       `asn1:"tag:0,optional"`
	Revoked    revokedInfoASN1 `asn1:"tag:1,optional"`
	Unknown    asn1.Flag       `asn1:"tag:2,optional"`
	ThisUpdate time.Time       `asn1:"generalized"`
	NextUpdate time.Time       `asn1:"generalized,explicit,tag:0,optional"`
}

// responseBuilder assembles a signed basic OCSP response with an explicit
// producedAt time.
type responseBuilder struct {
	issuer        *x509.Certificate
	responderCert *x509.Certificate
	signer        crypto.Signer
	producedAt    time.Time
	includeCert   bool
	responses     []singleResponseASN1
}

func newResponseBuilder(issuer, responderCert *x509.Certificate, signer crypto.Signer, producedAt time.Time) *responseBuilder {
	return &responseBuilder{
		issuer:        issuer,
		responderCert: responderCert,
		signer:        signer,
		producedAt:    producedAt.UTC().Truncate(time.Second),
		includeCert:   responderCert != issuer,
	}
}

func (b *responseBuilder) certID(serial *big.Int) (certIDASN1, error) {
	keyHash, err := publicKeyHash(b.issuer)
	if err != nil {
		return certIDASN1{}, err
	}
	nameHash := sha1.Sum(b.issuer.RawSubject)
	return certIDASN1{
		HashAlgorithm:  pkix.AlgorithmIdentifier{Algorithm: oidSHA1, Parameters: asn1.NullRawValue},
		IssuerNameHash: nameHash[:],
		IssuerKeyHash:  keyHash,
		SerialNumber:   serial,
	}, nil
}

func (b *responseBuilder) addGood(serial *big.Int, thisUpdate, nextUpdate time.Time) error {
	id, err := b.certID(serial)
	if err != nil {
		return err
	}
	b.responses = append(b.responses, singleResponseASN1{
		CertID:     id,
		Good:       true,
		ThisUpdate: thisUpdate.UTC().Truncate(time.Second),
		NextUpdate: nextUpdate.UTC().Truncate(time.Second),
	})
	return nil
}

func (b *responseBuilder) addRevoked(serial *big.Int, thisUpdate, nextUpdate, revokedAt time.Time, reason int) error {
	id, err := b.certID(serial)
	if err != nil {
		return err
	}
	b.responses = append(b.responses, singleResponseASN1{
		CertID: id,
		Revoked: revokedInfoASN1{
			RevocationTime: revokedAt.UTC().Truncate(time.Second),
			Reason:         asn1.Enumerated(reason),
		},
		ThisUpdate: thisUpdate.UTC().Truncate(time.Second),
		NextUpdate: nextUpdate.UTC().Truncate(time.Second),
	})
	return nil
}

func (b *responseBuilder) build() ([]byte, error) {
	if len(b.responses) == 0 {
		return nil, errNoResponses
	}

	// ResponderID byKey [2] EXPLICIT KeyHash
	keyHash, err := publicKeyHash(b.responderCert)
	if err != nil {
		return nil, err
	}
	octets, err := asn1.Marshal(keyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key hash: %w", err)
	}
	tbs, err := asn1.Marshal(responseDataASN1{
		ResponderID: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 2, IsCompound: true, Bytes: octets},
		ProducedAt:  b.producedAt,
		Responses:   b.responses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}

	signature, sigAlg, err := b.sign(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response: %w", err)
	}
	basic := basicResponseASN1{
		TBSResponseData:    asn1.RawValue{FullBytes: tbs},
		SignatureAlgorithm: sigAlg,
		Signature:          asn1.BitString{Bytes: signature, BitLength: 8 * len(signature)},
	}
	if b.includeCert {
		basic.Certificates = []asn1.RawValue{{FullBytes: b.responderCert.Raw}}
	}
	basicDER, err := asn1.Marshal(basic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal basic response: %w", err)
	}
	return asn1.Marshal(ocspResponseASN1{
		ResponseBytes: responseBytesASN1{ResponseType: oidOCSPBasic, Response: basicDER},
	})
}

func (b *responseBuilder) sign(data []byte) ([]byte, pkix.AlgorithmIdentifier, error) {
	var hash crypto.Hash
	var alg pkix.AlgorithmIdentifier
	switch pub := b.signer.Public().(type) {
	case *ecdsa.PublicKey:
		switch pub.Curve.Params().BitSize {
		case 384:
			hash, alg = crypto.SHA384, pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA384}
		case 521:
			hash, alg = crypto.SHA512, pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA512}
		default:
			hash, alg = crypto.SHA256, pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA256}
		}
	case *rsa.PublicKey:
		hash, alg = crypto.SHA256, pkix.AlgorithmIdentifier{Algorithm: oidSHA256WithRSA, Parameters: asn1.NullRawValue}
	default:
		return nil, pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: %T", errUnsupportedKeyType, pub)
	}
	h := hash.New()
	h.Write(data)
	signature, err := b.signer.Sign(rand.Reader, h.Sum(nil), hash)
	return signature, alg, err
}

// publicKeyHash is the SHA-1 hash of the subjectPublicKey bit string of cert.
func publicKeyHash(cert *x509.Certificate) ([]byte, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse SubjectPublicKeyInfo: %w", err)
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

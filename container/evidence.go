package container

import "github.com/georgepadayatti/goasic/certvalidator/revinfo"

// Evidence is the ordered revocation and timestamp evidence of one signature.
type Evidence struct {
	signatureTimestamp *Timestamp
	ocspResponses      []*revinfo.OCSPToken
	archiveTimestamps  []*Timestamp
}

// SignatureTimestamp returns the signature timestamp, or nil.
func (e Evidence) SignatureTimestamp() *Timestamp {
	return e.signatureTimestamp
}

// OCSPResponses returns the embedded OCSP responses in insertion order.
func (e Evidence) OCSPResponses() []*revinfo.OCSPToken {
	return e.ocspResponses
}

// ArchiveTimestamps returns the archive timestamps in creation order.
func (e Evidence) ArchiveTimestamps() []*Timestamp {
	return e.archiveTimestamps
}

// LatestOCSP returns the most recently added OCSP response.
func (e Evidence) LatestOCSP() *revinfo.OCSPToken {
	if len(e.ocspResponses) == 0 {
		return nil
	}
	return e.ocspResponses[len(e.ocspResponses)-1]
}

func (e Evidence) clone() Evidence {
	return Evidence{
		signatureTimestamp: e.signatureTimestamp,
		ocspResponses:      append([]*revinfo.OCSPToken(nil), e.ocspResponses...),
		archiveTimestamps:  append([]*Timestamp(nil), e.archiveTimestamps...),
	}
}

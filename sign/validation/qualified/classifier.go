package qualified

import (
	"crypto/x509"
	"time"
)

// Qualification is the trust level assigned to a time-stamping authority.
type Qualification string

const (
	QualificationQTSA    Qualification = "QTSA"
	QualificationTSA     Qualification = "TSA"
	QualificationUnknown Qualification = "UNKNOWN"
)

// Qualified reports whether q denotes a qualified authority.
func (q Qualification) Qualified() bool {
	return q == QualificationQTSA
}

// Assessment is the outcome of classifying a TSA certificate at a POE time.
type Assessment struct {
	Qualification Qualification
	// Listed is true when some trusted-list service covers the certificate.
	Listed bool
	// Withdrawn is true when the service was granted as QTST before the POE
	// time but no longer was at that time.
	Withdrawn   bool
	ServiceName string
	Territory   string
	Status      string
}

// Accepted reports whether the authority is acceptable for timestamp
// validation. A withdrawn QTST service is still accepted, with a warning.
func (a Assessment) Accepted() bool {
	return a.Qualification.Qualified() || a.Withdrawn
}

// Classifier assigns trust levels from a registry.
type Classifier struct {
	Registry *TSPRegistry
}

// NewClassifier creates a classifier over registry.
func NewClassifier(registry *TSPRegistry) *Classifier {
	if registry == nil {
		registry = NewTSPRegistry()
	}
	return &Classifier{Registry: registry}
}

// ClassifyTSA classifies cert at poe. A service granted as QTST at poe gives
// QTSA. A QTST service granted before poe but not at poe gives TSA with the
// withdrawn flag set. A listed time-stamping service of any other kind gives
// TSA. A certificate not covered by any time-stamping service gives UNKNOWN.
func (c *Classifier) ClassifyTSA(cert *x509.Certificate, poe time.Time) Assessment {
	var defs []*ServiceDefinition
	for _, sd := range c.Registry.Lookup(cert) {
		if sd.hasTimestampHistory() {
			defs = append(defs, sd)
		}
	}
	if len(defs) == 0 {
		return Assessment{Qualification: QualificationUnknown}
	}

	result := Assessment{Qualification: QualificationTSA, Listed: true}
	for _, sd := range defs {
		period, ok := sd.StatusAt(poe)
		if ok && period.ServiceType == QTSTUri && period.Granted() {
			return Assessment{
				Qualification: QualificationQTSA,
				Listed:        true,
				ServiceName:   sd.ServiceName,
				Territory:     sd.Territory,
				Status:        period.Status,
			}
		}
		if sd.GrantedBefore(QTSTUri, poe) && !result.Withdrawn {
			result.Withdrawn = true
			result.ServiceName = sd.ServiceName
			result.Territory = sd.Territory
			result.Status = period.Status
		}
		if result.ServiceName == "" {
			result.ServiceName = sd.ServiceName
			result.Territory = sd.Territory
			result.Status = period.Status
		}
	}
	return result
}

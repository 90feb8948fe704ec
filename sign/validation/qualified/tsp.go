// Package qualified classifies time-stamping authorities against EU trusted
// lists. Service definitions keep their full status history so that a
// certificate can be judged at the proof-of-existence time of the token it
// signed rather than at validation time.
package qualified

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// URI bases for ETSI trust service identifiers.
const (
	TrstSvcURIBase     = "http://uri.etsi.org/TrstSvc"
	CAQCUri            = TrstSvcURIBase + "/Svctype/CA/QC"
	CAPKCUri           = TrstSvcURIBase + "/Svctype/CA/PKC"
	TSAUri             = TrstSvcURIBase + "/Svctype/TSA"
	QTSTUri            = TrstSvcURIBase + "/Svctype/TSA/QTST"
	TSSQCUri           = TrstSvcURIBase + "/Svctype/TSA/TSS-QC"
	TrustedListURIBase = TrstSvcURIBase + "/TrustedList"
	SchemeRulesURIBase = TrustedListURIBase + "/schemerules"
	LOTLRule           = SchemeRulesURIBase + "/EUlistofthelists"
	ETSITSLMimeType    = "application/vnd.etsi.tsl+xml"
)

// Service status URIs.
const (
	StatusURIBase                 = TrustedListURIBase + "/Svcstatus"
	StatusGrantedURI              = StatusURIBase + "/granted"
	StatusWithdrawnURI            = StatusURIBase + "/withdrawn"
	StatusUnderSupervisionURI     = StatusURIBase + "/undersupervision"
	StatusAccreditedURI           = StatusURIBase + "/accredited"
	StatusSupervisionInCessation  = StatusURIBase + "/supervisionincessation"
	StatusSupervisionCeasedURI    = StatusURIBase + "/supervisionceased"
	StatusSupervisionRevokedURI   = StatusURIBase + "/supervisionrevoked"
	StatusAccreditationCeasedURI  = StatusURIBase + "/accreditationceased"
	StatusAccreditationRevokedURI = StatusURIBase + "/accreditationrevoked"
	StatusRecognisedAtNationalURI = StatusURIBase + "/recognisedatnationallevel"
	StatusDeprecatedAtNationalURI = StatusURIBase + "/deprecatedatnationallevel"
)

// Statuses from before eIDAS are mapped onto granted/withdrawn the same way
// the EU trusted list browser does.
var grantedStatuses = map[string]bool{
	StatusGrantedURI:              true,
	StatusUnderSupervisionURI:     true,
	StatusAccreditedURI:           true,
	StatusSupervisionInCessation:  true,
	StatusRecognisedAtNationalURI: true,
}

// IsGrantedStatus reports whether a status URI counts as granted.
func IsGrantedStatus(uri string) bool {
	return grantedStatuses[uri]
}

// IsTimestampServiceType reports whether a service type URI identifies a
// time-stamping service of any kind.
func IsTimestampServiceType(uri string) bool {
	switch uri {
	case TSAUri, QTSTUri, TSSQCUri, TSAUri + "/TSS-AdESQCandQES":
		return true
	}
	return false
}

// IsCertificateServiceType reports whether a service type URI identifies a
// certificate issuing service.
func IsCertificateServiceType(uri string) bool {
	return uri == CAQCUri || uri == CAPKCUri
}

// StatusPeriod is one entry of a service's status history. Until is nil for
// the current status.
type StatusPeriod struct {
	ServiceType string
	Status      string
	From        time.Time
	Until       *time.Time
}

// Contains reports whether t falls within the period.
func (p StatusPeriod) Contains(t time.Time) bool {
	if t.Before(p.From) {
		return false
	}
	return p.Until == nil || t.Before(*p.Until)
}

// Granted reports whether the period carries a granted status.
func (p StatusPeriod) Granted() bool {
	return IsGrantedStatus(p.Status)
}

// ServiceDefinition describes one trust service from a trusted list.
type ServiceDefinition struct {
	ServiceName   string
	ProviderName  string
	Territory     string
	ProviderCerts []*x509.Certificate
	// History is ordered oldest first.
	History []StatusPeriod
}

// Current returns the latest status period.
func (sd *ServiceDefinition) Current() (StatusPeriod, bool) {
	if len(sd.History) == 0 {
		return StatusPeriod{}, false
	}
	return sd.History[len(sd.History)-1], true
}

// StatusAt returns the status period in force at t.
func (sd *ServiceDefinition) StatusAt(t time.Time) (StatusPeriod, bool) {
	for _, p := range sd.History {
		if p.Contains(t) {
			return p, true
		}
	}
	return StatusPeriod{}, false
}

// GrantedBefore reports whether the service held a granted status of the
// given type at some point before t.
func (sd *ServiceDefinition) GrantedBefore(serviceType string, t time.Time) bool {
	for _, p := range sd.History {
		if p.ServiceType == serviceType && p.Granted() && p.From.Before(t) {
			return true
		}
	}
	return false
}

// sortHistory orders the periods by start time and closes each one at the
// start of the next.
func (sd *ServiceDefinition) sortHistory() {
	sort.SliceStable(sd.History, func(i, j int) bool {
		return sd.History[i].From.Before(sd.History[j].From)
	})
	for i := range sd.History {
		if i+1 < len(sd.History) {
			until := sd.History[i+1].From
			sd.History[i].Until = &until
		} else {
			sd.History[i].Until = nil
		}
	}
}

// TSPServiceParsingError reports a problem with one service entry of a
// trusted list. Parsing continues with the remaining entries.
type TSPServiceParsingError struct {
	Message string
}

func (e *TSPServiceParsingError) Error() string {
	return e.Message
}

// NewTSPServiceParsingError creates a new parsing error.
func NewTSPServiceParsingError(format string, args ...any) *TSPServiceParsingError {
	return &TSPServiceParsingError{Message: fmt.Sprintf(format, args...)}
}

// TSPRegistry indexes service definitions by the certificates that identify
// them.
type TSPRegistry struct {
	mu       sync.RWMutex
	byCert   map[string][]*ServiceDefinition
	identity map[string]*x509.Certificate
}

// NewTSPRegistry creates an empty registry.
func NewTSPRegistry() *TSPRegistry {
	return &TSPRegistry{
		byCert:   make(map[string][]*ServiceDefinition),
		identity: make(map[string]*x509.Certificate),
	}
}

// Register adds a service definition under each of its provider
// certificates.
func (r *TSPRegistry) Register(sd *ServiceDefinition) {
	sd.sortHistory()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cert := range sd.ProviderCerts {
		key := certFingerprint(cert)
		r.byCert[key] = append(r.byCert[key], sd)
		r.identity[key] = cert
	}
}

// Len returns the number of distinct service identities.
func (r *TSPRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCert)
}

// Lookup returns the definitions that apply to cert, either because cert is
// itself a service identity or because a service identity issued it.
func (r *TSPRegistry) Lookup(cert *x509.Certificate) []*ServiceDefinition {
	if cert == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if defs, ok := r.byCert[certFingerprint(cert)]; ok {
		return append([]*ServiceDefinition(nil), defs...)
	}
	var out []*ServiceDefinition
	for key, identity := range r.identity {
		if !bytesEqual(identity.RawSubject, cert.RawIssuer) {
			continue
		}
		if cert.CheckSignatureFrom(identity) != nil {
			continue
		}
		out = append(out, r.byCert[key]...)
	}
	return out
}

// KnownTimestampAuthorities returns the identities of all time-stamping
// services in the registry.
func (r *TSPRegistry) KnownTimestampAuthorities() []*x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*x509.Certificate
	for key, defs := range r.byCert {
		for _, sd := range defs {
			if sd.hasTimestampHistory() {
				out = append(out, r.identity[key])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Subject.String() < out[j].Subject.String()
	})
	return out
}

// TrustAnchors returns the identities of all certificate issuing services
// in the registry, in subject order.
func (r *TSPRegistry) TrustAnchors() []*x509.Certificate {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*x509.Certificate
	for key, defs := range r.byCert {
		for _, sd := range defs {
			if sd.hasCertificateServiceHistory() {
				out = append(out, r.identity[key])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Subject.String() < out[j].Subject.String()
	})
	return out
}

func (sd *ServiceDefinition) hasTimestampHistory() bool {
	for _, p := range sd.History {
		if IsTimestampServiceType(p.ServiceType) {
			return true
		}
	}
	return false
}

func (sd *ServiceDefinition) hasCertificateServiceHistory() bool {
	for _, p := range sd.History {
		if IsCertificateServiceType(p.ServiceType) {
			return true
		}
	}
	return false
}

func certFingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}

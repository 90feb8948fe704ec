package qualified

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/moov-io/signedxml"
)

// PreferredLanguage is the preferred language for multilingual names.
const PreferredLanguage = "en"

// TrustServiceStatusList is the root element of an ETSI TS 119 612 list.
type TrustServiceStatusList struct {
	XMLName           xml.Name               `xml:"TrustServiceStatusList"`
	SchemeInformation *TSLSchemeInformation  `xml:"SchemeInformation"`
	TSPList           *TrustServiceProviders `xml:"TrustServiceProviderList"`
}

// TSLSchemeInformation contains scheme-level information.
type TSLSchemeInformation struct {
	TSLSequenceNumber    int                 `xml:"TSLSequenceNumber"`
	TSLType              string              `xml:"TSLType"`
	SchemeOperatorName   *InternationalNames `xml:"SchemeOperatorName"`
	SchemeInformationURI *NonEmptyURIList    `xml:"SchemeInformationURI"`
	SchemeTerritory      string              `xml:"SchemeTerritory"`
	PointersToOtherTSL   *OtherTSLPointers   `xml:"PointersToOtherTSL"`
	ListIssueDateTime    string              `xml:"ListIssueDateTime"`
	NextUpdate           *NextUpdate         `xml:"NextUpdate"`
}

// InternationalNames contains multilingual names.
type InternationalNames struct {
	Name []MultiLangString `xml:"Name"`
}

// MultiLangString is a string with a language attribute.
type MultiLangString struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

// NonEmptyURIList contains a list of URIs.
type NonEmptyURIList struct {
	URI []MultiLangString `xml:"URI"`
}

// NextUpdate contains next update information.
type NextUpdate struct {
	DateTime string `xml:"dateTime"`
}

// OtherTSLPointers contains pointers to other trusted lists.
type OtherTSLPointers struct {
	OtherTSLPointer []OtherTSLPointer `xml:"OtherTSLPointer"`
}

// OtherTSLPointer is a pointer to another trusted list.
type OtherTSLPointer struct {
	ServiceDigitalIdentities *ServiceDigitalIdentities `xml:"ServiceDigitalIdentities"`
	TSLLocation              string                    `xml:"TSLLocation"`
	AdditionalInformation    *AdditionalInformation    `xml:"AdditionalInformation"`
}

// ServiceDigitalIdentities contains digital identities.
type ServiceDigitalIdentities struct {
	ServiceDigitalIdentity []ServiceDigitalIdentity `xml:"ServiceDigitalIdentity"`
}

// ServiceDigitalIdentity contains a digital identity.
type ServiceDigitalIdentity struct {
	DigitalId []DigitalIdentity `xml:"DigitalId"`
}

// DigitalIdentity represents a digital identity.
type DigitalIdentity struct {
	X509Certificate string `xml:"X509Certificate"`
	X509SubjectName string `xml:"X509SubjectName"`
	X509SKI         string `xml:"X509SKI"`
}

// AdditionalInformation contains additional pointer information.
type AdditionalInformation struct {
	OtherInformation []OtherInformation `xml:"OtherInformation"`
}

// OtherInformation contains mixed content for additional information.
type OtherInformation struct {
	SchemeTypeCommunityRules *NonEmptyURIList `xml:"SchemeTypeCommunityRules"`
	SchemeTerritory          string           `xml:"SchemeTerritory"`
	MimeType                 string           `xml:"MimeType"`
}

// TrustServiceProviders contains the list of TSPs.
type TrustServiceProviders struct {
	TSP []TrustServiceProviderXML `xml:"TrustServiceProvider"`
}

// TrustServiceProviderXML represents a trust service provider.
type TrustServiceProviderXML struct {
	TSPInformation *TSPInformationXML `xml:"TSPInformation"`
	TSPServices    *TSPServicesXML    `xml:"TSPServices"`
}

// TSPInformationXML contains TSP information.
type TSPInformationXML struct {
	TSPName *InternationalNames `xml:"TSPName"`
}

// TSPServicesXML contains TSP services.
type TSPServicesXML struct {
	TSPService []TSPServiceXML `xml:"TSPService"`
}

// TSPServiceXML represents a TSP service.
type TSPServiceXML struct {
	ServiceInformation *ServiceStatusXML  `xml:"ServiceInformation"`
	ServiceHistory     *ServiceHistoryXML `xml:"ServiceHistory"`
}

// ServiceHistoryXML contains service history.
type ServiceHistoryXML struct {
	ServiceHistoryInstance []ServiceStatusXML `xml:"ServiceHistoryInstance"`
}

// ServiceStatusXML is shared by the current service information and each
// history instance.
type ServiceStatusXML struct {
	ServiceTypeIdentifier  string                  `xml:"ServiceTypeIdentifier"`
	ServiceName            *InternationalNames     `xml:"ServiceName"`
	ServiceDigitalIdentity *ServiceDigitalIdentity `xml:"ServiceDigitalIdentity"`
	ServiceStatus          string                  `xml:"ServiceStatus"`
	StatusStartingTime     string                  `xml:"StatusStartingTime"`
}

// TLReference is a reference to a trusted list found in a list of lists.
type TLReference struct {
	LocationURI string
	Territory   string
	TLSOCerts   []*x509.Certificate
	SchemeRules map[string]bool
}

// LOTLParseResult is the result of parsing a list of the lists.
type LOTLParseResult struct {
	References []*TLReference
	Errors     []*TSPServiceParsingError
	PivotURLs  []string
}

func extractFromIntlString(names *InternationalNames) string {
	if names == nil || len(names.Name) == 0 {
		return "unknown"
	}
	for _, name := range names.Name {
		if strings.EqualFold(name.Lang, PreferredLanguage) {
			return strings.TrimSpace(name.Value)
		}
	}
	return strings.TrimSpace(names.Name[0].Value)
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime: %s", s)
}

func parseCertificatesFromDigitalIdentity(sdi *ServiceDigitalIdentity) ([]*x509.Certificate, error) {
	if sdi == nil {
		return nil, nil
	}
	var certs []*x509.Certificate
	for _, did := range sdi.DigitalId {
		if did.X509Certificate == "" {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(did.X509Certificate), ""))
		if err != nil {
			return nil, fmt.Errorf("decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func statusPeriodFromXML(x *ServiceStatusXML) (StatusPeriod, error) {
	from, err := parseDateTime(x.StatusStartingTime)
	if err != nil {
		return StatusPeriod{}, err
	}
	return StatusPeriod{
		ServiceType: strings.TrimSpace(x.ServiceTypeIdentifier),
		Status:      strings.TrimSpace(x.ServiceStatus),
		From:        from,
	}, nil
}

// ReadServiceDefinitions extracts every time-stamping service from a trusted
// list, together with its status history. Other service types are skipped.
func ReadServiceDefinitions(tlXML []byte) ([]*ServiceDefinition, []*TSPServiceParsingError) {
	var tsl TrustServiceStatusList
	if err := xml.Unmarshal(tlXML, &tsl); err != nil {
		return nil, []*TSPServiceParsingError{NewTSPServiceParsingError("failed to parse trusted list XML: %v", err)}
	}
	if tsl.TSPList == nil {
		return nil, nil
	}
	territory := ""
	if tsl.SchemeInformation != nil {
		territory = strings.TrimSpace(tsl.SchemeInformation.SchemeTerritory)
	}

	var defs []*ServiceDefinition
	var errs []*TSPServiceParsingError
	for _, tsp := range tsl.TSPList.TSP {
		providerName := "unknown"
		if tsp.TSPInformation != nil {
			providerName = extractFromIntlString(tsp.TSPInformation.TSPName)
		}
		if tsp.TSPServices == nil {
			continue
		}
		for _, svc := range tsp.TSPServices.TSPService {
			sd, err := readService(&svc, providerName, territory)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if sd != nil {
				defs = append(defs, sd)
			}
		}
	}
	return defs, errs
}

func readService(svc *TSPServiceXML, providerName, territory string) (*ServiceDefinition, *TSPServiceParsingError) {
	info := svc.ServiceInformation
	if info == nil {
		return nil, NewTSPServiceParsingError("service of %s has no service information", providerName)
	}
	sd := &ServiceDefinition{
		ServiceName:  extractFromIntlString(info.ServiceName),
		ProviderName: providerName,
		Territory:    territory,
	}

	current, err := statusPeriodFromXML(info)
	if err != nil {
		return nil, NewTSPServiceParsingError("service %q: %v", sd.ServiceName, err)
	}
	sd.History = append(sd.History, current)
	if svc.ServiceHistory != nil {
		for i := range svc.ServiceHistory.ServiceHistoryInstance {
			p, err := statusPeriodFromXML(&svc.ServiceHistory.ServiceHistoryInstance[i])
			if err != nil {
				return nil, NewTSPServiceParsingError("service %q history: %v", sd.ServiceName, err)
			}
			sd.History = append(sd.History, p)
		}
	}
	if !sd.hasTimestampHistory() && !sd.hasCertificateServiceHistory() {
		return nil, nil
	}

	certs, err := parseCertificatesFromDigitalIdentity(info.ServiceDigitalIdentity)
	if err != nil {
		return nil, NewTSPServiceParsingError("service %q: %v", sd.ServiceName, err)
	}
	if len(certs) == 0 {
		return nil, NewTSPServiceParsingError("service %q has no X.509 digital identity", sd.ServiceName)
	}
	sd.ProviderCerts = certs
	return sd, nil
}

// TrustListToRegistryUnsafe parses a trusted list into registry without
// checking its signature.
func TrustListToRegistryUnsafe(tlXML []byte, registry *TSPRegistry) (*TSPRegistry, []*TSPServiceParsingError) {
	if registry == nil {
		registry = NewTSPRegistry()
	}
	defs, errs := ReadServiceDefinitions(tlXML)
	for _, sd := range defs {
		registry.Register(sd)
	}
	return registry, errs
}

// XMLSignatureError represents an XML signature validation error.
type XMLSignatureError struct {
	Message string
}

func (e *XMLSignatureError) Error() string {
	return e.Message
}

// ValidateXMLSignature checks the enveloped signature of a trusted list
// against the given certificates. It returns the signed content and the
// certificate that verified it.
func ValidateXMLSignature(xmlContent string, trustedCerts []*x509.Certificate) (string, *x509.Certificate, error) {
	if len(trustedCerts) == 0 {
		return "", nil, &XMLSignatureError{Message: "no trusted certificates provided for signature validation"}
	}

	validator, err := signedxml.NewValidator(xmlContent)
	if err != nil {
		return "", nil, &XMLSignatureError{Message: fmt.Sprintf("failed to create XML signature validator: %v", err)}
	}
	certValues := make([]x509.Certificate, 0, len(trustedCerts))
	for _, cert := range trustedCerts {
		if cert != nil {
			certValues = append(certValues, *cert)
		}
	}
	validator.Certificates = certValues

	signed, err := validator.ValidateReferences()
	if err != nil {
		return "", nil, &XMLSignatureError{Message: fmt.Sprintf("XML signature validation failed: %v", err)}
	}
	if len(signed) == 0 {
		return "", nil, &XMLSignatureError{Message: "no signed content found in XML"}
	}

	var signer *x509.Certificate
	if sc := validator.SigningCert(); len(sc.Raw) > 0 {
		signer = &sc
	}
	return signed[0], signer, nil
}

// ValidateXMLSignatureWithMultipleCerts tries each candidate, newest first.
func ValidateXMLSignatureWithMultipleCerts(xmlContent string, candidates []*x509.Certificate) (string, *x509.Certificate, error) {
	if len(candidates) == 0 {
		return "", nil, &XMLSignatureError{Message: "no candidate certificates provided"}
	}
	sorted := append([]*x509.Certificate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NotBefore.After(sorted[j].NotBefore)
	})

	var lastErr error
	for _, cert := range sorted {
		content, signer, err := ValidateXMLSignature(xmlContent, []*x509.Certificate{cert})
		if err == nil {
			return content, signer, nil
		}
		lastErr = err
	}
	return "", nil, &XMLSignatureError{
		Message: fmt.Sprintf("none of the %d candidate certificates could validate the signature: %v", len(candidates), lastErr),
	}
}

// TrustListToRegistry verifies a trusted list with the operator's
// certificates and parses it into registry. A list whose signature does not
// verify contributes nothing.
func TrustListToRegistry(tlXML []byte, tlsoCerts []*x509.Certificate, registry *TSPRegistry) (*TSPRegistry, []*TSPServiceParsingError) {
	if registry == nil {
		registry = NewTSPRegistry()
	}
	content, _, err := ValidateXMLSignatureWithMultipleCerts(string(tlXML), tlsoCerts)
	if err != nil {
		return registry, []*TSPServiceParsingError{NewTSPServiceParsingError("trusted list rejected: %v", err)}
	}
	return TrustListToRegistryUnsafe([]byte(content), registry)
}

// ParseLOTL reads the trusted-list pointers of a list of the lists without
// checking its signature.
func ParseLOTL(lotlXML []byte) (*LOTLParseResult, error) {
	var tsl TrustServiceStatusList
	if err := xml.Unmarshal(lotlXML, &tsl); err != nil {
		return nil, fmt.Errorf("failed to parse LOTL XML: %w", err)
	}
	if tsl.SchemeInformation == nil {
		return nil, fmt.Errorf("no scheme information found")
	}

	info := tsl.SchemeInformation
	result := &LOTLParseResult{}
	if info.SchemeInformationURI != nil {
		for _, uri := range info.SchemeInformationURI.URI {
			if strings.HasSuffix(uri.Value, ".xml") {
				result.PivotURLs = append(result.PivotURLs, uri.Value)
			}
		}
	}
	if info.PointersToOtherTSL == nil {
		return result, nil
	}

	for _, pointer := range info.PointersToOtherTSL.OtherTSLPointer {
		location := strings.TrimSpace(pointer.TSLLocation)
		if location == "" {
			continue
		}
		var territory, mimeType string
		rules := make(map[string]bool)
		if pointer.AdditionalInformation != nil {
			for _, other := range pointer.AdditionalInformation.OtherInformation {
				if other.SchemeTerritory != "" {
					territory = strings.TrimSpace(other.SchemeTerritory)
				}
				if other.MimeType != "" {
					mimeType = strings.TrimSpace(other.MimeType)
				}
				if other.SchemeTypeCommunityRules != nil {
					for _, uri := range other.SchemeTypeCommunityRules.URI {
						rules[uri.Value] = true
					}
				}
			}
		}
		if mimeType != "" && mimeType != ETSITSLMimeType {
			continue
		}

		var certs []*x509.Certificate
		if pointer.ServiceDigitalIdentities != nil {
			for i := range pointer.ServiceDigitalIdentities.ServiceDigitalIdentity {
				c, err := parseCertificatesFromDigitalIdentity(&pointer.ServiceDigitalIdentities.ServiceDigitalIdentity[i])
				if err != nil {
					result.Errors = append(result.Errors, NewTSPServiceParsingError("TLSO certificates for %s: %v", territory, err))
					continue
				}
				certs = append(certs, c...)
			}
		}
		result.References = append(result.References, &TLReference{
			LocationURI: location,
			Territory:   territory,
			TLSOCerts:   certs,
			SchemeRules: rules,
		})
	}
	return result, nil
}

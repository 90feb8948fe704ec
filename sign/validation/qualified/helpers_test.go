package qualified

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"
)

type testCert struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

func newTestCert(t *testing.T, commonName string, issuer *testCert) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Country: []string{"EE"}},
		NotBefore:             time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  issuer == nil,
	}
	parent, signer := template, crypto.Signer(key)
	if issuer != nil {
		parent, signer = issuer.Cert, issuer.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), signer)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &testCert{Cert: cert, Key: key}
}

type testPeriod struct {
	serviceType string
	status      string
	from        string
}

type testService struct {
	name    string
	cert    *x509.Certificate
	periods []testPeriod // newest first, as in a trusted list
}

func serviceStatusXML(tag, name string, cert *x509.Certificate, p testPeriod) string {
	return fmt.Sprintf(`<%[1]s>
<ServiceTypeIdentifier>%[2]s</ServiceTypeIdentifier>
<ServiceName><Name xml:lang="en">%[3]s</Name></ServiceName>
<ServiceDigitalIdentity><DigitalId><X509Certificate>%[4]s</X509Certificate></DigitalId></ServiceDigitalIdentity>
<ServiceStatus>%[5]s</ServiceStatus>
<StatusStartingTime>%[6]s</StatusStartingTime>
</%[1]s>`, tag, p.serviceType, name, base64.StdEncoding.EncodeToString(cert.Raw), p.status, p.from)
}

func trustedListXML(territory string, services ...testService) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#">
<SchemeInformation><TSLSequenceNumber>1</TSLSequenceNumber><SchemeTerritory>` + territory + `</SchemeTerritory></SchemeInformation>
<TrustServiceProviderList><TrustServiceProvider>
<TSPInformation><TSPName><Name xml:lang="en">Test TSP</Name></TSPName></TSPInformation>
<TSPServices>`)
	for _, svc := range services {
		b.WriteString("<TSPService>")
		b.WriteString(serviceStatusXML("ServiceInformation", svc.name, svc.cert, svc.periods[0]))
		if len(svc.periods) > 1 {
			b.WriteString("<ServiceHistory>")
			for _, p := range svc.periods[1:] {
				b.WriteString(serviceStatusXML("ServiceHistoryInstance", svc.name, svc.cert, p))
			}
			b.WriteString("</ServiceHistory>")
		}
		b.WriteString("</TSPService>")
	}
	b.WriteString(`</TSPServices></TrustServiceProvider></TrustServiceProviderList>
</TrustServiceStatusList>`)
	return []byte(b.String())
}

func lotlXML(pointers map[string]string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#">
<SchemeInformation><SchemeTerritory>EU</SchemeTerritory>
<SchemeInformationURI><URI xml:lang="en">https://example.test/pivot-1.xml</URI></SchemeInformationURI>
<PointersToOtherTSL>`)
	for territory, location := range pointers {
		fmt.Fprintf(&b, `<OtherTSLPointer><TSLLocation>%s</TSLLocation>
<AdditionalInformation><OtherInformation><SchemeTerritory>%s</SchemeTerritory></OtherInformation>
<OtherInformation><MimeType>%s</MimeType></OtherInformation></AdditionalInformation></OtherTSLPointer>`,
			location, territory, ETSITSLMimeType)
	}
	b.WriteString(`<OtherTSLPointer><TSLLocation>https://example.test/tl.pdf</TSLLocation>
<AdditionalInformation><OtherInformation><MimeType>application/pdf</MimeType></OtherInformation></AdditionalInformation></OtherTSLPointer>`)
	b.WriteString(`</PointersToOtherTSL></SchemeInformation></TrustServiceStatusList>`)
	return []byte(b.String())
}

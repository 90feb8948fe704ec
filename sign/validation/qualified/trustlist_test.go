package qualified

import (
	"crypto/x509"
	"errors"
	"testing"
)

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2024-01-15T10:30:00Z", false},
		{"2024-01-15T10:30:00+02:00", false},
		{"2024-01-15T10:30:00", false},
		{"2024-01-15", false},
		{"", true},
		{"not-a-date", true},
	}
	for _, tt := range tests {
		_, err := parseDateTime(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDateTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestExtractFromIntlString(t *testing.T) {
	tests := []struct {
		name  string
		input *InternationalNames
		want  string
	}{
		{"nil", nil, "unknown"},
		{"single", &InternationalNames{Name: []MultiLangString{{Lang: "et", Value: "Ajatempel"}}}, "Ajatempel"},
		{"english preferred", &InternationalNames{Name: []MultiLangString{
			{Lang: "et", Value: "Ajatempel"},
			{Lang: "en", Value: " Time-stamping "},
		}}, "Time-stamping"},
	}
	for _, tt := range tests {
		if got := extractFromIntlString(tt.input); got != tt.want {
			t.Errorf("%s: extractFromIntlString() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestReadServiceDefinitions(t *testing.T) {
	tsa := newTestCert(t, "SK TIMESTAMPING UNIT", nil)
	ca := newTestCert(t, "ESTEID CA", nil)

	tl := trustedListXML("EE",
		testService{name: "SK TSA", cert: tsa.Cert, periods: []testPeriod{
			{QTSTUri, StatusWithdrawnURI, "2023-01-01T00:00:00Z"},
			{QTSTUri, StatusGrantedURI, "2016-07-01T00:00:00Z"},
			{TSAUri, StatusAccreditedURI, "2014-01-01T00:00:00Z"},
		}},
		testService{name: "ESTEID", cert: ca.Cert, periods: []testPeriod{
			{CAQCUri, StatusGrantedURI, "2016-07-01T00:00:00Z"},
		}},
		testService{name: "SK EDS", cert: newTestCert(t, "SK EDS", nil).Cert, periods: []testPeriod{
			{TrstSvcURIBase + "/Svctype/EDS/Q", StatusGrantedURI, "2016-07-01T00:00:00Z"},
		}},
	)

	defs, errs := ReadServiceDefinitions(tl)
	if len(errs) != 0 {
		t.Fatalf("ReadServiceDefinitions() errors = %v", errs)
	}
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2 (delivery services are skipped)", len(defs))
	}
	if defs[1].ServiceName != "ESTEID" {
		t.Errorf("ServiceName = %q, want %q", defs[1].ServiceName, "ESTEID")
	}
	sd := defs[0]
	if sd.ServiceName != "SK TSA" {
		t.Errorf("ServiceName = %q, want %q", sd.ServiceName, "SK TSA")
	}
	if sd.Territory != "EE" {
		t.Errorf("Territory = %q, want EE", sd.Territory)
	}
	if sd.ProviderName != "Test TSP" {
		t.Errorf("ProviderName = %q, want %q", sd.ProviderName, "Test TSP")
	}
	if len(sd.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(sd.History))
	}
	if !sd.ProviderCerts[0].Equal(tsa.Cert) {
		t.Error("provider certificate does not match the digital identity")
	}

	registry, _ := TrustListToRegistryUnsafe(tl, nil)
	got := NewClassifier(registry).ClassifyTSA(tsa.Cert, date(2020, 1, 1))
	if got.Qualification != QualificationQTSA {
		t.Errorf("ClassifyTSA(2020) = %q, want QTSA", got.Qualification)
	}
	got = NewClassifier(registry).ClassifyTSA(tsa.Cert, date(2015, 1, 1))
	if got.Qualification != QualificationTSA || got.Withdrawn {
		t.Errorf("ClassifyTSA(2015) = %+v, want TSA without withdrawal", got)
	}
	got = NewClassifier(registry).ClassifyTSA(tsa.Cert, date(2024, 1, 1))
	if !got.Withdrawn {
		t.Errorf("ClassifyTSA(2024).Withdrawn = false, want true")
	}
	if got := NewClassifier(registry).ClassifyTSA(ca.Cert, date(2020, 1, 1)); got.Listed {
		t.Errorf("ClassifyTSA(CA) = %+v, want unlisted", got)
	}
	if anchors := registry.TrustAnchors(); len(anchors) != 1 || !anchors[0].Equal(ca.Cert) {
		t.Errorf("TrustAnchors() = %d certificates, want the CA", len(anchors))
	}
	if tsas := registry.KnownTimestampAuthorities(); len(tsas) != 1 || !tsas[0].Equal(tsa.Cert) {
		t.Errorf("KnownTimestampAuthorities() = %d certificates, want the TSA", len(tsas))
	}
}

func TestReadServiceDefinitions_Errors(t *testing.T) {
	tsa := newTestCert(t, "TSA", nil)

	if _, errs := ReadServiceDefinitions([]byte("<not-xml")); len(errs) != 1 {
		t.Errorf("malformed XML: got %d errors, want 1", len(errs))
	}

	tl := trustedListXML("EE", testService{name: "Broken", cert: tsa.Cert, periods: []testPeriod{
		{QTSTUri, StatusGrantedURI, "yesterday"},
	}})
	defs, errs := ReadServiceDefinitions(tl)
	if len(defs) != 0 || len(errs) != 1 {
		t.Errorf("bad date: defs=%d errs=%d, want 0 and 1", len(defs), len(errs))
	}
}

func TestParseLOTL(t *testing.T) {
	lotl := lotlXML(map[string]string{"EE": "https://example.test/ee.xml"})
	result, err := ParseLOTL(lotl)
	if err != nil {
		t.Fatalf("ParseLOTL() error = %v", err)
	}
	if len(result.References) != 1 {
		t.Fatalf("len(References) = %d, want 1 (non-TSL pointers skipped)", len(result.References))
	}
	ref := result.References[0]
	if ref.Territory != "EE" || ref.LocationURI != "https://example.test/ee.xml" {
		t.Errorf("reference = %+v", ref)
	}
	if len(result.PivotURLs) != 1 {
		t.Errorf("len(PivotURLs) = %d, want 1", len(result.PivotURLs))
	}

	if _, err := ParseLOTL([]byte(`<TrustServiceStatusList/>`)); err == nil {
		t.Error("ParseLOTL() without scheme information should fail")
	}
}

func TestValidateXMLSignature_Rejects(t *testing.T) {
	tsa := newTestCert(t, "TSA", nil)
	tl := string(trustedListXML("EE"))

	var sigErr *XMLSignatureError
	if _, _, err := ValidateXMLSignature(tl, nil); !errors.As(err, &sigErr) {
		t.Errorf("ValidateXMLSignature(no certs) error = %v, want XMLSignatureError", err)
	}
	if _, _, err := ValidateXMLSignatureWithMultipleCerts(tl, nil); !errors.As(err, &sigErr) {
		t.Errorf("ValidateXMLSignatureWithMultipleCerts(no certs) error = %v, want XMLSignatureError", err)
	}
	if _, _, err := ValidateXMLSignatureWithMultipleCerts(tl, []*x509.Certificate{tsa.Cert}); err == nil {
		t.Error("unsigned trusted list should not validate")
	}

	registry, errs := TrustListToRegistry([]byte(tl), []*x509.Certificate{tsa.Cert}, nil)
	if len(errs) != 1 || registry.Len() != 0 {
		t.Errorf("TrustListToRegistry(unsigned) = %d services, %d errors; want 0 and 1", registry.Len(), len(errs))
	}
}

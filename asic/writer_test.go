package asic

import (
	"bytes"
	"crypto"
	"testing"
	"time"

	"github.com/georgepadayatti/goasic/container"
)

func TestManifestRoundTrip(t *testing.T) {
	m := &container.Manifest{Entries: []container.ManifestEntry{
		{Path: "test.txt", MimeType: "text/plain"},
		{Path: "dir/image.png", MimeType: "image/png"},
	}}
	data, err := BuildManifest(container.TypeASiCE, m)
	if err != nil {
		t.Fatalf("BuildManifest() error = %v", err)
	}
	if !bytes.Contains(data, []byte(`manifest:full-path="/"`)) {
		t.Error("manifest does not declare the root entry")
	}
	got, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if len(got.Entries) != len(m.Entries) {
		t.Fatalf("len(Entries) = %d, want %d", len(got.Entries), len(m.Entries))
	}
	for i, e := range m.Entries {
		if got.Entries[i] != e {
			t.Errorf("Entries[%d] = %+v, want %+v", i, got.Entries[i], e)
		}
	}
}

func TestArchiveManifestRoundTrip(t *testing.T) {
	am := &ArchiveManifest{
		SigReference: TimestampEntryName(3),
		References: []ArchiveReference{
			NewArchiveReference(TimestampEntryName(1), container.MimeTypeTimestampToken, crypto.SHA256, []byte("t1")),
			NewArchiveReference(TimestampEntryName(2), container.MimeTypeTimestampToken, crypto.SHA256, []byte("t2")),
			NewArchiveReference("test.txt", "text/plain", crypto.SHA512, []byte("data")),
		},
	}
	data, err := am.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := ParseArchiveManifest(data)
	if err != nil {
		t.Fatalf("ParseArchiveManifest() error = %v", err)
	}
	if got.SigReference != am.SigReference {
		t.Errorf("SigReference = %q, want %q", got.SigReference, am.SigReference)
	}
	if len(got.References) != 3 {
		t.Fatalf("len(References) = %d, want 3", len(got.References))
	}
	if !got.References[2].Matches([]byte("data")) {
		t.Error("References[2].Matches(data) = false, want true")
	}
	if got.References[2].Matches([]byte("other")) {
		t.Error("References[2].Matches(other) = true, want false")
	}
	if got.References[2].DigestAlgorithm != crypto.SHA512 {
		t.Errorf("DigestAlgorithm = %v, want SHA-512", got.References[2].DigestAlgorithm)
	}

	scope := got.Scope(ArchiveManifestEntryName(3))
	if len(scope) != 4 {
		t.Fatalf("len(Scope) = %d, want 4", len(scope))
	}
	if scope[0].Description != container.DescriptionManifestDocument {
		t.Errorf("Scope[0].Description = %q, want %q", scope[0].Description, container.DescriptionManifestDocument)
	}
	if scope[3].Name != "test.txt" || scope[3].Description != container.DescriptionFullDocument {
		t.Errorf("Scope[3] = %+v, want test.txt Full document", scope[3])
	}
}

func TestParseArchiveManifestWithoutSigReference(t *testing.T) {
	_, err := ParseArchiveManifest([]byte(`<asic:ASiCManifest xmlns:asic="` + NamespaceASiC + `"/>`))
	if err == nil {
		t.Fatal("ParseArchiveManifest() error = nil, want error")
	}
}

func newTestSignature(t *testing.T, id string) *container.Signature {
	t.Helper()
	sig := container.NewSignature(id, container.ProfileBBES)
	sig.SigningTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sig.SigningCertificate = newTestCertificate(t, "Signer "+id)
	sig.References = []container.Reference{{
		URI:             "test.txt",
		MimeType:        "text/plain",
		DigestAlgorithm: crypto.SHA256,
		Digest:          bytes.Repeat([]byte{1}, 32),
	}}
	sig.SignatureValue = []byte("signature-value")
	return sig
}

func TestSignaturesRoundTrip(t *testing.T) {
	plain := newTestSignature(t, "S0")
	policy := newTestSignature(t, "S1")
	policy.PolicyID = "urn:oid:1.3.6.1.4.1.10015.1000.3.2.1"
	timestamped := newTestSignature(t, "S2")
	if err := timestamped.SetSignatureTimestamp(container.NewTimestamp("", []byte("sig-ts"), nil)); err != nil {
		t.Fatalf("SetSignatureTimestamp() error = %v", err)
	}
	archived := newTestSignature(t, "S3")
	if err := archived.SetSignatureTimestamp(container.NewTimestamp("", []byte("sig-ts-2"), nil)); err != nil {
		t.Fatalf("SetSignatureTimestamp() error = %v", err)
	}
	archived.AddArchiveTimestamp(container.NewTimestamp("", []byte("archive-1"), nil))
	archived.AddArchiveTimestamp(container.NewTimestamp("", []byte("archive-2"), nil))

	data, err := EncodeSignatures([]*container.Signature{plain, policy, timestamped, archived})
	if err != nil {
		t.Fatalf("EncodeSignatures() error = %v", err)
	}
	sigs, err := ParseSignatures(data, "META-INF/signatures0.xml")
	if err != nil {
		t.Fatalf("ParseSignatures() error = %v", err)
	}

	wantProfiles := []container.Profile{
		container.ProfileBBES, container.ProfileBEPES, container.ProfileT, container.ProfileLTA,
	}
	if len(sigs) != len(wantProfiles) {
		t.Fatalf("len(sigs) = %d, want %d", len(sigs), len(wantProfiles))
	}
	for i, want := range wantProfiles {
		if got := sigs[i].Profile(); got != want {
			t.Errorf("sigs[%d].Profile() = %q, want %q", i, got, want)
		}
		if sigs[i].EntryName != "META-INF/signatures0.xml" {
			t.Errorf("sigs[%d].EntryName = %q", i, sigs[i].EntryName)
		}
	}

	got := sigs[3]
	if !bytes.Equal(got.SignedInfo(), archived.SignedInfo()) {
		t.Errorf("SignedInfo() differs after round trip:\n%s\nwant\n%s", got.SignedInfo(), archived.SignedInfo())
	}
	if mt, _ := got.MimeTypeFor("test.txt"); mt != "text/plain" {
		t.Errorf("MimeTypeFor(test.txt) = %q, want text/plain", mt)
	}
	ev := got.Evidence()
	if len(ev.ArchiveTimestamps()) != 2 {
		t.Fatalf("len(ArchiveTimestamps()) = %d, want 2", len(ev.ArchiveTimestamps()))
	}
	if string(ev.ArchiveTimestamps()[1].Token) != "archive-2" {
		t.Errorf("ArchiveTimestamps()[1].Token = %q, want archive-2", ev.ArchiveTimestamps()[1].Token)
	}
	if sigs[1].PolicyID != policy.PolicyID {
		t.Errorf("PolicyID = %q, want %q", sigs[1].PolicyID, policy.PolicyID)
	}
}

func TestEncodeOpenASiCE(t *testing.T) {
	c := container.NewSimple(container.TypeASiCE)
	for _, df := range []*container.DataFile{
		container.NewDataFile("test.txt", "text/plain", []byte("hello")),
		container.NewDataFile("data.bin", "", []byte{0, 1, 2}),
	} {
		if err := c.AddDataFile(df); err != nil {
			t.Fatalf("AddDataFile() error = %v", err)
		}
	}
	c.AddSignature(newTestSignature(t, "S0"))

	data, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got.Type() != container.TypeASiCE {
		t.Errorf("Type() = %q, want ASICE", got.Type())
	}
	dfs := got.DataFiles()
	if len(dfs) != 2 {
		t.Fatalf("len(DataFiles()) = %d, want 2", len(dfs))
	}
	if dfs[0].Name != "test.txt" || dfs[0].MimeType != "text/plain" || string(dfs[0].Content()) != "hello" {
		t.Errorf("DataFiles()[0] = %s %s %q", dfs[0].Name, dfs[0].MimeType, dfs[0].Content())
	}
	if dfs[1].MimeType != container.MimeTypeOctetStream {
		t.Errorf("DataFiles()[1].MimeType = %q, want %q", dfs[1].MimeType, container.MimeTypeOctetStream)
	}
	if n := len(got.Signatures()); n != 1 {
		t.Errorf("len(Signatures()) = %d, want 1", n)
	}
	if simple, ok := got.(*container.Simple); !ok || simple.Manifest() == nil {
		t.Error("opened container has no manifest")
	}
}

func TestEncodeStoresMimeTypeFirst(t *testing.T) {
	c := container.NewSimple(container.TypeASiCS)
	if err := c.AddDataFile(container.NewDataFile("test.txt", "text/plain", []byte("x"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	// Local file header (30 bytes) followed by the entry name and content.
	want := EntryMimeType + container.MimeTypeASiCS
	if len(data) < 30+len(want) || string(data[30:30+len(want)]) != want {
		t.Errorf("archive does not start with an uncompressed mimetype entry")
	}
}

func TestComposeRoundTrip(t *testing.T) {
	inner := container.NewSimple(container.TypeASiCE)
	if err := inner.AddDataFile(container.NewDataFile("a.txt", "text/plain", []byte("a"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	if err := inner.AddDataFile(container.NewDataFile("b.txt", "text/plain", []byte("b"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	inner.AddSignature(newTestSignature(t, "S0"))

	comp, err := Compose(inner, "nested.asice")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	data, err := Encode(comp)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	opened, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, ok := opened.(*container.Composite)
	if !ok {
		t.Fatalf("Open() = %T, want *container.Composite", opened)
	}
	if got.NestedContainerType() != container.TypeASiCE {
		t.Errorf("NestedContainerType() = %q, want ASICE", got.NestedContainerType())
	}
	if got.NestingWrapperName() != "nested.asice" {
		t.Errorf("NestingWrapperName() = %q, want nested.asice", got.NestingWrapperName())
	}
	nested := got.NestedContainerDataFiles()
	if len(nested) != 2 || nested[0].Name != "a.txt" || nested[1].Name != "b.txt" {
		t.Errorf("NestedContainerDataFiles() = %v", nested)
	}
	if n := len(got.NestedContainerSignatures()); n != 1 {
		t.Errorf("len(NestedContainerSignatures()) = %d, want 1", n)
	}
	outer := got.NestingContainerDataFiles()
	if len(outer) != 1 || outer[0].Name != "nested.asice" || outer[0].MimeType != container.MimeTypeASiCE {
		t.Errorf("NestingContainerDataFiles() = %v", outer)
	}
}

func TestOpenRespectsMaxDepth(t *testing.T) {
	inner := container.NewSimple(container.TypeASiCS)
	if err := inner.AddDataFile(container.NewDataFile("a.txt", "text/plain", []byte("a"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	var c container.Container = inner
	for i := 0; i < 3; i++ {
		comp, err := Compose(c, "level.asics")
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		c = comp
	}
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	full, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if d := container.Depth(full); d != 4 {
		t.Errorf("Depth() = %d, want 4", d)
	}
	limited, err := Open(data, WithMaxDepth(2))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if d := container.Depth(limited); d != 2 {
		t.Errorf("Depth() with max depth 2 = %d, want 2", d)
	}
}

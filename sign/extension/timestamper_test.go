package extension

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/timestamps"
)

func newASiCS(t *testing.T) *container.Simple {
	t.Helper()
	c := container.NewSimple(container.TypeASiCS)
	if err := c.AddDataFile(container.NewDataFile("test.txt", "text/plain", []byte("timestamped content"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	return c
}

func TestAddTimestampChain(t *testing.T) {
	e := newEnv(t)
	ts := NewTimestamper(Static[timestamps.TSPSource](e.tsa))
	c := newASiCS(t)

	wantNames := []string{"META-INF/timestamp.tst", "META-INF/timestamp002.tst", "META-INF/timestamp003.tst"}
	wantManifests := []string{"", "META-INF/ASiCArchiveManifest.xml", "META-INF/ASiCArchiveManifest003.xml"}
	for i := range wantNames {
		got, err := ts.AddTimestamp(context.Background(), c)
		if err != nil {
			t.Fatalf("AddTimestamp() #%d error = %v", i+1, err)
		}
		if got.Name != wantNames[i] {
			t.Errorf("Name = %q, want %q", got.Name, wantNames[i])
		}
		if got.ManifestName != wantManifests[i] {
			t.Errorf("ManifestName = %q, want %q", got.ManifestName, wantManifests[i])
		}
	}

	third := c.Timestamps()[2]
	wantScope := []string{"META-INF/ASiCArchiveManifest003.xml", "META-INF/timestamp.tst", "META-INF/timestamp002.tst", "test.txt"}
	if len(third.Scope) != len(wantScope) {
		t.Fatalf("len(Scope) = %d, want %d", len(third.Scope), len(wantScope))
	}
	for i, entry := range third.Scope {
		if entry.Name != wantScope[i] {
			t.Errorf("Scope[%d].Name = %q, want %q", i, entry.Name, wantScope[i])
		}
		if entry.Coverage != container.CoverageFullDocument {
			t.Errorf("Scope[%d].Coverage = %q, want %q", i, entry.Coverage, container.CoverageFullDocument)
		}
	}

	am, err := asic.ParseArchiveManifest(third.Manifest)
	if err != nil {
		t.Fatalf("ParseArchiveManifest() error = %v", err)
	}
	if am.SigReference != "META-INF/timestamp003.tst" {
		t.Errorf("SigReference = %q, want %q", am.SigReference, "META-INF/timestamp003.tst")
	}

	result, err := e.validator().Validate(context.Background(), c)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid || len(result.TimestampReports) != 3 {
		t.Errorf("Valid = %v with %d reports, want true with 3 (errors %q)",
			result.Valid, len(result.TimestampReports), result.Errors)
	}
}

func TestAddTimestampPreconditions(t *testing.T) {
	e := newEnv(t)
	source := Static[timestamps.TSPSource](e.tsa)

	twoFiles := newASiCS(t)
	if err := twoFiles.AddDataFile(container.NewDataFile("second.txt", "", []byte("x"))); err != nil {
		t.Fatalf("AddDataFile() error = %v", err)
	}
	signed := newASiCS(t)
	addSignature(t, signed, "id-1", e.signer, e.ca)

	tests := []struct {
		name   string
		source Factory[timestamps.TSPSource]
		c      container.Container
		want   error
	}{
		{"absent source", None[timestamps.TSPSource](), newASiCS(t), ErrASiCSTSPSourceRequired},
		{"nil source", nil, newASiCS(t), ErrASiCSTSPSourceRequired},
		{"ASiC-E", source, newASiCE(t), ErrNotASiCS},
		{"signed", source, signed, ErrSignedContainer},
		{"two data files", source, twoFiles, ErrDataFileCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTimestamper(tt.source).AddTimestamp(context.Background(), tt.c)
			if !errors.Is(err, tt.want) {
				t.Errorf("AddTimestamp() error = %v, want %v", err, tt.want)
			}
			if len(tt.c.Timestamps()) != 0 {
				t.Error("timestamp added despite failure")
			}
		})
	}
	if ErrASiCSTSPSourceRequired.Error() != "TSP source cannot be null" {
		t.Errorf("ErrASiCSTSPSourceRequired = %q", ErrASiCSTSPSourceRequired)
	}
}

func TestAddTimestampOverBrokenChain(t *testing.T) {
	e := newEnv(t)
	ts := NewTimestamper(Static[timestamps.TSPSource](e.tsa))
	c := newASiCS(t)
	first, err := ts.AddTimestamp(context.Background(), c)
	if err != nil {
		t.Fatalf("AddTimestamp() error = %v", err)
	}

	broken := bytes.Clone(first.Token)
	broken[len(broken)-1] ^= 0xff
	tampered := newASiCS(t)
	tampered.AddTimestamp(container.NewTimestamp(first.Name, broken, first.Scope))

	_, err = ts.AddTimestamp(context.Background(), tampered)
	var brokenErr *BrokenTimestampError
	if !errors.As(err, &brokenErr) {
		t.Fatalf("AddTimestamp() error = %v, want *BrokenTimestampError", err)
	}
	id := tampered.Timestamps()[0].ID
	want := "Broken timestamp(s) detected. [" + id + ": Signature is not intact!]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if len(tampered.Timestamps()) != 1 {
		t.Errorf("len(Timestamps()) = %d, want 1", len(tampered.Timestamps()))
	}
}

func TestAddTimestampEvidenceFailure(t *testing.T) {
	c := newASiCS(t)
	_, err := NewTimestamper(Static(failingTSP())).AddTimestamp(context.Background(), c)
	var evErr *EvidenceError
	if !errors.As(err, &evErr) || evErr.Source != SourceArchiveTSP {
		t.Fatalf("AddTimestamp() error = %v, want *EvidenceError from %s", err, SourceArchiveTSP)
	}
	if !strings.Contains(err.Error(), errTSAUnavailable.Error()) {
		t.Errorf("Error() = %q, want to mention %q", err.Error(), errTSAUnavailable)
	}
}

func TestWrap(t *testing.T) {
	e := newEnv(t)
	ts := NewTimestamper(Static[timestamps.TSPSource](e.tsa))
	inner := newASiCS(t)
	if _, err := ts.AddTimestamp(context.Background(), inner); err != nil {
		t.Fatalf("AddTimestamp() error = %v", err)
	}

	outer, err := ts.Wrap(context.Background(), inner, "inner.asics")
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if outer.NestedContainerType() != container.TypeASiCS {
		t.Errorf("NestedContainerType() = %s, want %s", outer.NestedContainerType(), container.TypeASiCS)
	}
	if got := len(outer.NestingContainerTimestamps()); got != 1 {
		t.Errorf("len(NestingContainerTimestamps()) = %d, want 1", got)
	}
	if got := len(outer.NestedContainerTimestamps()); got != 1 {
		t.Errorf("len(NestedContainerTimestamps()) = %d, want 1", got)
	}
	if !outer.Timestamps()[0].Covers("inner.asics") {
		t.Error("outer timestamp does not cover the wrapped container")
	}

	result, err := e.validator().Validate(context.Background(), outer)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(result.TimestampReports) != 2 {
		t.Fatalf("len(TimestampReports) = %d, want 2", len(result.TimestampReports))
	}
	if first := result.TimestampReports[0]; first.Name != "META-INF/timestamp.tst" || first.Scope[0].Name != "test.txt" {
		t.Errorf("first report = %+v, want the nested timestamp", first)
	}

	if _, err := NewTimestamper(nil).Wrap(context.Background(), inner, "inner.asics"); !errors.Is(err, ErrASiCSTSPSourceRequired) {
		t.Errorf("Wrap() without source error = %v, want %v", err, ErrASiCSTSPSourceRequired)
	}
}

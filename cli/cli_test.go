package cli

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/config"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/ades"
)

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"version", []string{"--version"}, 0},
		{"help", []string{"--help"}, 0},
		{"unknown command", []string{"frobnicate"}, 1},
		{"missing argument", []string{"validate"}, 1},
		{"missing file", []string{"validate", "does-not-exist.asice"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := Run(tt.args, &stdout, &stderr); got != tt.want {
				t.Errorf("Run(%v) = %d, want %d (stderr: %s)", tt.args, got, tt.want, stderr.String())
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	tc := newTestContext(t)
	cfg := tc.writeFile("bad.yaml", []byte("logging:\n  level: loud\n"))

	if _, err := executeCommand("--config", cfg, "validate", "x.asice"); err == nil {
		t.Error("expected a configuration error")
	}
	if _, err := executeCommand("--log-format", "xml", "validate", "x.asice"); err == nil {
		t.Error("expected an error for an unknown log format")
	}
}

func TestSignAndValidate(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)

	for _, profile := range []string{"B_BES", "T", "LT", "LTA"} {
		t.Run(profile, func(t *testing.T) {
			out := tc.sign(p, cfg, profile)

			c, err := asic.OpenFile(out)
			if err != nil {
				t.Fatalf("OpenFile() error = %v", err)
			}
			sigs := c.Signatures()
			if len(sigs) != 1 {
				t.Fatalf("len(Signatures()) = %d, want 1", len(sigs))
			}
			if got := string(sigs[0].Profile()); got != profile {
				t.Errorf("Profile() = %q, want %q", got, profile)
			}

			output, err := executeCommand("--config", cfg, "validate", "--format", "json", out)
			if err != nil && !errors.Is(err, ErrNotValid) {
				t.Fatalf("validate error = %v", err)
			}
			var result ades.ValidationResult
			if err := json.Unmarshal([]byte(output), &result); err != nil {
				t.Fatalf("report is not JSON: %v\n%s", err, output)
			}
			if len(result.SignatureReports) != 1 {
				t.Fatalf("len(SignatureReports) = %d, want 1", len(result.SignatureReports))
			}
			if result.SignatureReports[0].ID != sigs[0].ID {
				t.Errorf("report ID = %q, want %q", result.SignatureReports[0].ID, sigs[0].ID)
			}
			if sub := result.SignatureReports[0].SubIndication; sub == ades.SubIndicationNoCertificateChainFound {
				t.Errorf("SubIndication = %q, want the configured anchor to be used", sub)
			}
			if result.ContainerType != container.TypeASiCE {
				t.Errorf("ContainerType = %q, want %q", result.ContainerType, container.TypeASiCE)
			}
		})
	}
}

func TestSignAppend(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	first := tc.sign(p, cfg, "B_BES")

	out := tc.path("cosigned.asice")
	output, err := executeCommand("--config", cfg, "sign", "--append", first,
		"--cert", p.signer.certPath, "--key", p.signer.keyPath, "--profile", "T", out)
	if err != nil {
		t.Fatalf("sign --append error = %v\n%s", err, output)
	}

	c, err := asic.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if got := len(c.Signatures()); got != 2 {
		t.Errorf("len(Signatures()) = %d, want 2", got)
	}
}

func TestSignErrors(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	data := tc.writeFile("data.txt", []byte("hello"))

	tests := []struct {
		name string
		args []string
	}{
		{"no credential", []string{"sign", tc.path("a.asice"), data}},
		{"no data files", []string{"sign", "--cert", p.signer.certPath, "--key", p.signer.keyPath, tc.path("a.asice")}},
		{"key without cert", []string{"sign", "--key", p.signer.keyPath, tc.path("a.asice"), data}},
		{"unknown profile", []string{"sign", "--cert", p.signer.certPath, "--key", p.signer.keyPath, "--profile", "XL", tc.path("a.asice"), data}},
		{"bad policy", []string{"sign", "--cert", p.signer.certPath, "--key", p.signer.keyPath, "--policy", "not-an-oid", tc.path("a.asice"), data}},
		{"unknown type", []string{"sign", "--cert", p.signer.certPath, "--key", p.signer.keyPath, "--type", "zip", tc.path("a.asice"), data}},
		{"mismatched key", []string{"sign", "--cert", p.signer.certPath, "--key", p.ca.keyPath, tc.path("a.asice"), data}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg}, tt.args...)
			if _, err := executeCommand(args...); err == nil {
				t.Errorf("executeCommand(%v) expected error", tt.args)
			}
		})
	}
}

func TestExtend(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	in := tc.sign(p, cfg, "B_BES")
	out := tc.path("extended.asice")

	output, err := executeCommand("--config", cfg, "extend", "--profile", "LTA", in, out)
	if err != nil {
		t.Fatalf("extend error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "B_BES -> LTA") {
		t.Errorf("output = %q, want it to contain %q", output, "B_BES -> LTA")
	}

	c, err := asic.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if got := c.Signatures()[0].Profile(); got != container.ProfileLTA {
		t.Errorf("Profile() = %q, want %q", got, container.ProfileLTA)
	}
}

func TestExtendWithoutOCSPLeavesSignatureUnchanged(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	in := tc.sign(p, cfg, "T")
	out := tc.path("extended.asice")

	output, err := executeCommand("--config", cfg, "extend", "--no-ocsp", "--profile", "LT", in, out)
	if err != nil {
		t.Fatalf("extend error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "T (unchanged)") {
		t.Errorf("output = %q, want it to contain %q", output, "T (unchanged)")
	}
}

func TestExtendErrors(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	noTSP := tc.writeFile("no-tsp.yaml", []byte("logging:\n  level: error\n"))
	in := tc.sign(p, cfg, "LT")

	t.Run("unsupported transition", func(t *testing.T) {
		out := tc.path("t.asice")
		output, err := executeCommand("--config", cfg, "extend", "--profile", "T", in, out)
		if err == nil {
			t.Fatal("expected an error")
		}
		want := "Not supported: It is not possible to extend LT signature to T."
		if !strings.Contains(output, want) {
			t.Errorf("output = %q, want it to contain %q", output, want)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Error("no container should be written")
		}
	})

	t.Run("check without TSP", func(t *testing.T) {
		output, err := executeCommand("--config", noTSP, "extend", "--check", "--profile", "LTA", in)
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(output, "The TSPSource cannot be null") {
			t.Errorf("output = %q, want the missing TSP source", output)
		}
	})

	t.Run("check passes", func(t *testing.T) {
		output, err := executeCommand("--config", cfg, "extend", "--check", "--profile", "LTA", in)
		if err != nil {
			t.Fatalf("extend --check error = %v\n%s", err, output)
		}
	})

	t.Run("missing profile", func(t *testing.T) {
		if _, err := executeCommand("--config", cfg, "extend", in, tc.path("x.asice")); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown signature", func(t *testing.T) {
		if _, err := executeCommand("--config", cfg, "extend", "--profile", "LTA", "--signature", "nope", in, tc.path("x.asice")); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestTimestampChain(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	data := tc.writeFile("contract.pdf", []byte("%PDF-1.7"))

	first := tc.path("first.asics")
	output, err := executeCommand("--config", cfg, "timestamp", "--data", data, first)
	if err != nil {
		t.Fatalf("timestamp --data error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "Container timestamp 1") {
		t.Errorf("output = %q, want timestamp 1", output)
	}

	second := tc.path("second.asics")
	output, err = executeCommand("--config", cfg, "timestamp", first, second)
	if err != nil {
		t.Fatalf("timestamp error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "Container timestamp 2") {
		t.Errorf("output = %q, want timestamp 2", output)
	}

	c, err := asic.OpenFile(second)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	ts := c.Timestamps()
	if len(ts) != 2 {
		t.Fatalf("len(Timestamps()) = %d, want 2", len(ts))
	}
	if ts[0].Name != asic.TimestampEntryName(1) || ts[1].Name != asic.TimestampEntryName(2) {
		t.Errorf("timestamp names = %q, %q", ts[0].Name, ts[1].Name)
	}
	if got := c.DataFiles()[0].MimeType; got != "application/pdf" {
		t.Errorf("MimeType = %q, want %q", got, "application/pdf")
	}
}

func TestTimestampWrap(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	signed := tc.sign(p, cfg, "B_BES")
	out := tc.path("wrapped.asics")

	output, err := executeCommand("--config", cfg, "timestamp", "--wrap", "signed.asice", signed, out)
	if err != nil {
		t.Fatalf("timestamp --wrap error = %v\n%s", err, output)
	}

	c, err := asic.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if c.Nested() == nil {
		t.Fatal("Nested() = nil, want the wrapped container")
	}
	if got := c.Nested().Type(); got != container.TypeASiCE {
		t.Errorf("Nested().Type() = %q, want %q", got, container.TypeASiCE)
	}
	if got := len(c.Timestamps()); got != 1 {
		t.Errorf("len(Timestamps()) = %d, want 1", got)
	}
}

func TestTimestampErrors(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	noTSP := tc.writeFile("no-tsp.yaml", []byte("logging:\n  level: error\n"))
	data := tc.writeFile("contract.txt", []byte("contract"))
	signed := tc.sign(p, cfg, "B_BES")

	tests := []struct {
		name string
		args []string
	}{
		{"no TSA", []string{"--config", noTSP, "timestamp", "--data", data, tc.path("a.asics")}},
		{"signed container", []string{"--config", cfg, "timestamp", signed, tc.path("b.asics")}},
		{"data and wrap", []string{"--config", cfg, "timestamp", "--data", "--wrap", "x.asice", data, tc.path("c.asics")}},
		{"missing output", []string{"--config", cfg, "timestamp", data}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := executeCommand(tt.args...); err == nil {
				t.Errorf("executeCommand(%v) expected error", tt.args)
			}
		})
	}
}

func TestValidateStructuralDefect(t *testing.T) {
	tc := newTestContext(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < 2; i++ {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
		if err != nil {
			t.Fatalf("CreateHeader() error = %v", err)
		}
		if _, err := w.Write([]byte(container.MimeTypeASiCE)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	in := tc.writeFile("broken.asice", buf.Bytes())

	output, err := executeCommand("validate", in)
	if !errors.Is(err, ErrNotValid) {
		t.Fatalf("validate error = %v, want ErrNotValid", err)
	}
	if !strings.Contains(output, "Result: INVALID") {
		t.Errorf("output = %q, want an INVALID result", output)
	}
	if !strings.Contains(output, asic.MsgMultipleMimeTypes) {
		t.Errorf("output = %q, want %q", output, asic.MsgMultipleMimeTypes)
	}
}

func TestValidateOptions(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	cfg := tc.config(p)
	signed := tc.sign(p, cfg, "T")

	t.Run("report file", func(t *testing.T) {
		report := tc.path("report.cbor")
		if _, err := executeCommand("--config", cfg, "validate", "--format", "cbor", "--out", report, signed); err != nil && !errors.Is(err, ErrNotValid) {
			t.Fatalf("validate error = %v", err)
		}
		data, err := os.ReadFile(report)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		result, err := ades.ParseCBOR(data)
		if err != nil {
			t.Fatalf("ParseCBOR() error = %v", err)
		}
		if len(result.SignatureReports) != 1 {
			t.Errorf("len(SignatureReports) = %d, want 1", len(result.SignatureReports))
		}
	})

	t.Run("validation time", func(t *testing.T) {
		output, err := executeCommand("--config", cfg, "validate", "--format", "json", "--at", "2030-01-01T00:00:00Z", signed)
		if err != nil && !errors.Is(err, ErrNotValid) {
			t.Fatalf("validate error = %v", err)
		}
		var result ades.ValidationResult
		if err := json.Unmarshal([]byte(output), &result); err != nil {
			t.Fatalf("report is not JSON: %v", err)
		}
		if got := result.ValidationTime.Year(); got != 2030 {
			t.Errorf("ValidationTime year = %d, want 2030", got)
		}
	})

	t.Run("bad format", func(t *testing.T) {
		if _, err := executeCommand("validate", "--format", "xml", signed); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("bad time", func(t *testing.T) {
		if _, err := executeCommand("validate", "--at", "yesterday", signed); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestResponderOptions(t *testing.T) {
	tc := newTestContext(t)
	p := tc.setupPKI()
	a := &app{
		cfg:    config.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  clockwork.NewRealClock(),
	}

	if _, err := a.responderOptions(&ServeOptions{}); err == nil {
		t.Error("responderOptions() without credentials expected error")
	}

	ro, err := a.responderOptions(&ServeOptions{
		TSACert: p.tsa.certPath, TSAKey: p.tsa.keyPath,
		TSAChain: []string{p.ca.certPath}, TSAPolicy: "1.2.3.4",
		CACert: p.ca.certPath, CAKey: p.ca.keyPath,
	})
	if err != nil {
		t.Fatalf("responderOptions() error = %v", err)
	}
	if ro.TSA == nil || ro.OCSP == nil {
		t.Errorf("responderOptions() = %+v, want both responders", ro)
	}

	if _, err := a.responderOptions(&ServeOptions{TSACert: p.tsa.certPath, TSAKey: p.ca.keyPath}); err == nil {
		t.Error("responderOptions() with a mismatched key expected error")
	}
	if _, err := a.responderOptions(&ServeOptions{TSACert: p.tsa.certPath, TSAKey: p.tsa.keyPath, TSAPolicy: "policy"}); err == nil {
		t.Error("responderOptions() with a bad policy expected error")
	}
}

func TestParseOID(t *testing.T) {
	oid, err := parseOID("1.3.6.1.4.1.4146.2.2")
	if err != nil {
		t.Fatalf("parseOID() error = %v", err)
	}
	if got := oid.String(); got != "1.3.6.1.4.1.4146.2.2" {
		t.Errorf("parseOID() = %q, want %q", got, "1.3.6.1.4.1.4146.2.2")
	}
	for _, bad := range []string{"", "1", "a.b", "1..2"} {
		if _, err := parseOID(bad); !errors.Is(err, config.ErrInvalidOID) {
			t.Errorf("parseOID(%q) error = %v, want ErrInvalidOID", bad, err)
		}
	}
}

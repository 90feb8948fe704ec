package ades

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jedib0t/go-pretty/v6/table"
)

// ToJSON serializes the result to indented JSON.
func (r *ValidationResult) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToCBOR serializes the result with canonical CBOR encoding.
func (r *ValidationResult) ToCBOR() ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return em.Marshal(r)
}

// ParseCBOR decodes a result encoded by ToCBOR.
func ParseCBOR(data []byte) (*ValidationResult, error) {
	var r ValidationResult
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR result: %w", err)
	}
	return &r, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatIndication(i Indication, sub SubIndication) string {
	if sub == "" {
		return string(i)
	}
	return fmt.Sprintf("%s (%s)", i, sub)
}

// ToText renders the result as text tables.
func (r *ValidationResult) ToText() string {
	var sb strings.Builder

	verdict := "VALID"
	if !r.IsValid() {
		verdict = "INVALID"
	}
	fmt.Fprintf(&sb, "Container: %s\n", r.ContainerType)
	fmt.Fprintf(&sb, "Validation time: %s\n", r.ValidationTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Result: %s\n", verdict)

	if len(r.SignatureReports) > 0 {
		tw := table.NewWriter()
		tw.SetTitle("Signatures")
		tw.AppendHeader(table.Row{"ID", "Format", "Indication", "Signed by", "Best time"})
		for _, s := range r.SignatureReports {
			tw.AppendRow(table.Row{s.ID, s.SignatureFormat, formatIndication(s.Indication, s.SubIndication), s.SignedBy, formatTime(s.BestSignatureTime)})
		}
		sb.WriteString(tw.Render())
		sb.WriteString("\n")
	}

	if len(r.TimestampReports) > 0 {
		tw := table.NewWriter()
		tw.SetTitle("Timestamps")
		tw.AppendHeader(table.Row{"ID", "Level", "Indication", "Production time", "Scope"})
		for _, ts := range r.TimestampReports {
			var scope []string
			for _, s := range ts.Scope {
				scope = append(scope, s.Name)
			}
			tw.AppendRow(table.Row{ts.ID, ts.TimestampLevel, formatIndication(ts.Indication, ts.SubIndication), formatTime(ts.ProductionTime), strings.Join(scope, ", ")})
		}
		sb.WriteString(tw.Render())
		sb.WriteString("\n")
	}

	findings := []struct {
		label string
		items []string
	}{
		{"ERROR", r.Errors},
		{"WARNING", r.Warnings},
		{"CONTAINER ERROR", r.ContainerErrors},
		{"CONTAINER WARNING", r.ContainerWarnings},
	}
	for _, f := range findings {
		for _, item := range f.items {
			fmt.Fprintf(&sb, "%s: %s\n", f.label, item)
		}
	}
	return sb.String()
}

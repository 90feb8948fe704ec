package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/sign/ades"
	"github.com/georgepadayatti/goasic/sign/validation"
	"github.com/georgepadayatti/goasic/sign/validation/qualified"
)

// ValidateOptions contains options for the validate command.
type ValidateOptions struct {
	Format  string
	Output  string
	At      string
	Offline bool
}

func newValidateCommand(a *app) *cobra.Command {
	var opts ValidateOptions

	cmd := &cobra.Command{
		Use:   "validate <container>",
		Short: "Validate the signatures and timestamps of a container",
		Long: `Validate an ASiC-S, ASiC-E or DDOC container.

The report lists every signature and container timestamp with its indication.
The command exits with status 1 when the container is not valid.

Trusted lists from the configuration are refreshed before validation unless
--offline is given, in which case every timestamp authority is unknown.

Examples:
  goasic validate document.asice
  goasic validate --format json --out report.json document.asice
  goasic validate --at 2024-06-01T12:00:00Z archive.asics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd, args[0], &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Report format: text, json, cbor")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringVar(&opts.At, "at", "", "Validation time in RFC 3339 format (defaults to now)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Skip the trusted list refresh")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, name string, opts *ValidateOptions) error {
	render, err := reportRenderer(opts.Format)
	if err != nil {
		return err
	}
	at := a.clock.Now()
	if opts.At != "" {
		if at, err = time.Parse(time.RFC3339, opts.At); err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
	}

	result, err := a.validate(cmd, name, at, opts.Offline)
	if err != nil {
		return err
	}

	data, err := render(result)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), opts.Output, data); err != nil {
		return err
	}
	if !result.IsValid() {
		return ErrNotValid
	}
	return nil
}

// validate opens and validates the container. A container that cannot be
// opened because of a structural defect yields a result carrying the defect
// as a container error.
func (a *app) validate(cmd *cobra.Command, name string, at time.Time, offline bool) (*ades.ValidationResult, error) {
	ctx := cmd.Context()

	c, err := a.open(name)
	if err != nil {
		var structural *asic.StructuralError
		if errors.As(err, &structural) {
			result := ades.NewValidationResult(at.UTC(), "")
			result.AddContainerError(structural.Message)
			return result.Finalize(), nil
		}
		return nil, err
	}

	var classifier *qualified.Classifier
	if a.cfg.Trust.Configured() && !offline {
		provider, err := a.cfg.Trust.Provider(a.logger, a.clock)
		if err != nil {
			return nil, err
		}
		if err := provider.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh trusted lists: %w", err)
		}
		classifier = provider.Classifier()
	}

	settings, err := a.cfg.ValidatorSettings(classifier, a.clock, a.logger)
	if err != nil {
		return nil, err
	}
	v := validation.NewValidator(settings)
	result, err := v.ValidateAt(ctx, c, at)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("container validated", "file", name, "valid", result.IsValid(),
		"signatures", len(result.SignatureReports), "timestamps", len(result.TimestampReports))
	return result, nil
}

func reportRenderer(format string) (func(*ades.ValidationResult) ([]byte, error), error) {
	switch format {
	case "text", "":
		return func(r *ades.ValidationResult) ([]byte, error) { return []byte(r.ToText()), nil }, nil
	case "json":
		return func(r *ades.ValidationResult) ([]byte, error) {
			data, err := r.ToJSON()
			return append(data, '\n'), err
		}, nil
	case "cbor":
		return (*ades.ValidationResult).ToCBOR, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

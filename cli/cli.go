// Package cli implements the goasic command-line interface for validating,
// timestamping, extending and signing ASiC containers.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/config"
	"github.com/georgepadayatti/goasic/container"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// ErrNotValid is returned by the validate command when the container does
// not pass validation.
var ErrNotValid = errors.New("container is not valid")

// app holds the state shared by all commands of one invocation.
type app struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	clock    clockwork.Clock
}

// Run executes the CLI with the given arguments (without the program name)
// and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrNotValid) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// NewRootCommand creates the goasic command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{clock: clockwork.NewRealClock()})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "goasic",
		Short: "ASiC container validation, timestamping and signing",
		Long: `goasic validates ASiC-S and ASiC-E containers, adds container timestamps,
extends XAdES signatures to higher baseline profiles and creates new signatures.

Examples:
  # Validate a container and print a text report
  goasic validate document.asice

  # Validate with a JSON report using a configuration file
  goasic --config goasic.yaml validate --format json document.asice

  # Timestamp a file into a new ASiC-S container
  goasic timestamp --data contract.pdf contract.asics

  # Extend all signatures to LTA
  goasic extend --profile LTA document.asice document-lta.asice

  # Sign files into a new ASiC-E container
  goasic sign --cert signer.pem --key signer.key out.asice a.txt b.txt`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text, json (overrides the configuration)")

	root.AddCommand(newValidateCommand(a))
	root.AddCommand(newTimestampCommand(a))
	root.AddCommand(newExtendCommand(a))
	root.AddCommand(newSignCommand(a))
	root.AddCommand(newServeCommand(a))
	return root
}

// setup loads the configuration and creates the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configFile != "" {
		var err error
		if cfg, err = config.LoadFile(a.configFile); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Logging.Validate(); err != nil {
		return err
	}

	logger, closer, err := cfg.Logging.Logger(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closer
	return nil
}

// open reads a container with the configured nesting limit.
func (a *app) open(name string) (container.Container, error) {
	return asic.OpenFile(name, asic.WithMaxDepth(a.cfg.Validation.MaxNestingDepth), asic.WithLogger(a.logger))
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/extension"
)

// TimestampOptions contains options for the timestamp command.
type TimestampOptions struct {
	TSA  string
	Data bool
	Wrap string
}

func newTimestampCommand(a *app) *cobra.Command {
	var opts TimestampOptions

	cmd := &cobra.Command{
		Use:   "timestamp <input> <output>",
		Short: "Add a container timestamp to an ASiC-S container",
		Long: `Add the next timestamp of the container timestamp chain of an unsigned
ASiC-S container. The archive TSA of the configuration is used unless --tsa
is given.

With --data the input is an ordinary file that becomes the data file of a new
ASiC-S container. With --wrap the input container is stored under the given
name inside a new ASiC-S container, which is then timestamped.

Examples:
  goasic timestamp --data contract.pdf contract.asics
  goasic timestamp contract.asics contract-renewed.asics
  goasic timestamp --wrap signed.asice signed.asice archive.asics`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTimestamp(cmd, args[0], args[1], &opts)
		},
	}

	cmd.Flags().StringVar(&opts.TSA, "tsa", "", "URL of the time-stamping authority (overrides the configuration)")
	cmd.Flags().BoolVar(&opts.Data, "data", false, "Treat the input as a data file and create a new container")
	cmd.Flags().StringVar(&opts.Wrap, "wrap", "", "Wrap the input container under this name before timestamping")
	cmd.MarkFlagsMutuallyExclusive("data", "wrap")
	return cmd
}

func (a *app) runTimestamp(cmd *cobra.Command, input, output string, opts *TimestampOptions) error {
	ctx := cmd.Context()
	if opts.TSA != "" {
		a.cfg.TSP.ArchiveURL = opts.TSA
	}
	ts := extension.NewTimestamper(a.cfg.TSP.ArchiveSource(a.logger),
		extension.WithClock(a.clock),
		extension.WithLogger(a.logger),
		extension.WithDigestAlgorithm(a.cfg.TSP.Hash()),
	)

	var result container.Container
	switch {
	case opts.Data:
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("failed to read data file: %w", err)
		}
		name := filepath.Base(input)
		c := container.NewSimple(container.TypeASiCS)
		if err := c.AddDataFile(container.NewDataFile(name, asic.DataFileMimeType(name), data)); err != nil {
			return err
		}
		if _, err := ts.AddTimestamp(ctx, c); err != nil {
			return err
		}
		result = c

	case opts.Wrap != "":
		nested, err := a.open(input)
		if err != nil {
			return err
		}
		composite, err := ts.Wrap(ctx, nested, opts.Wrap)
		if err != nil {
			return err
		}
		result = composite

	default:
		c, err := a.open(input)
		if err != nil {
			return err
		}
		if _, err := ts.AddTimestamp(ctx, c); err != nil {
			return err
		}
		result = c
	}

	if err := asic.Save(result, output); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Container timestamp %d written to %s\n", len(result.Timestamps()), output)
	return nil
}

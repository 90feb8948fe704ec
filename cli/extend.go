package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/sign/extension"
)

// ExtendOptions contains options for the extend command.
type ExtendOptions struct {
	Profile    string
	Signatures []string
	TSA        string
	OCSP       string
	NoOCSP     bool
	Check      bool
}

func newExtendCommand(a *app) *cobra.Command {
	var opts ExtendOptions

	cmd := &cobra.Command{
		Use:   "extend <input> [output]",
		Short: "Extend signatures to a higher baseline profile",
		Long: `Extend the signatures of a container to the T, LT or LTA profile.

All signatures are extended unless --signature selects some of them. Every
selected signature is checked before any evidence is requested; when one of
them cannot be extended the container is left unchanged.

With --check nothing is written and the output argument is not needed; the
command only reports which signatures could not be extended.

Examples:
  goasic extend --profile LT document.asice document-lt.asice
  goasic extend --profile LTA --signature S0 document.asice document-lta.asice
  goasic extend --check --profile LTA document.asice`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Check {
				return cobra.RangeArgs(1, 2)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtend(cmd, args, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Profile, "profile", "p", "", "Target profile: T, LT, LTA (required)")
	cmd.Flags().StringSliceVarP(&opts.Signatures, "signature", "s", nil, "Id of a signature to extend (repeatable)")
	cmd.Flags().StringVar(&opts.TSA, "tsa", "", "URL of the time-stamping authority (overrides the configuration)")
	cmd.Flags().StringVar(&opts.OCSP, "ocsp", "", "URL of the OCSP responder (overrides the configuration)")
	cmd.Flags().BoolVar(&opts.NoOCSP, "no-ocsp", false, "Do not request revocation data")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "Only check whether the signatures can be extended")
	_ = cmd.MarkFlagRequired("profile")
	cmd.MarkFlagsMutuallyExclusive("ocsp", "no-ocsp")
	return cmd
}

func (a *app) runExtend(cmd *cobra.Command, args []string, opts *ExtendOptions) error {
	target, err := container.ParseProfile(opts.Profile)
	if err != nil {
		return err
	}
	a.applySourceOverrides(opts.TSA, opts.OCSP, opts.NoOCSP)

	c, err := a.open(args[0])
	if err != nil {
		return err
	}

	anchors, err := a.cfg.Trust.TrustAnchors()
	if err != nil {
		return err
	}
	extender := extension.NewExtender(a.cfg.Sources(a.logger),
		extension.WithClock(a.clock),
		extension.WithLogger(a.logger),
		extension.WithDigestAlgorithm(a.cfg.TSP.Hash()),
		extension.WithIssuers(anchors...),
	)

	out := cmd.OutOrStdout()
	if opts.Check {
		failures := extender.Check(c, target, opts.Signatures...)
		if len(failures) == 0 {
			fmt.Fprintf(out, "All selected signatures can be extended to %s\n", target)
			return nil
		}
		ids := make([]string, 0, len(failures))
		for id := range failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "%s: %v\n", id, failures[id])
		}
		return fmt.Errorf("%d signature(s) cannot be extended to %s", len(failures), target)
	}

	before := profiles(c)
	if err := extender.Extend(cmd.Context(), c, target, opts.Signatures...); err != nil {
		var errs extension.Errors
		if errors.As(err, &errs) {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", e.SignatureID, e.Err)
			}
		}
		return err
	}

	if err := asic.Save(c, args[1]); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	for _, sig := range c.Signatures() {
		if from := before[sig.ID]; from != sig.Profile() {
			fmt.Fprintf(out, "%s: %s -> %s\n", sig.ID, from, sig.Profile())
		} else {
			fmt.Fprintf(out, "%s: %s (unchanged)\n", sig.ID, from)
		}
	}
	return nil
}

// applySourceOverrides replaces the configured evidence endpoints with the
// command line values.
func (a *app) applySourceOverrides(tsa, ocsp string, noOCSP bool) {
	if tsa != "" {
		a.cfg.TSP.URL = tsa
		a.cfg.TSP.ArchiveURL = tsa
	}
	if ocsp != "" {
		a.cfg.OCSP.URL = ocsp
		a.cfg.OCSP.Disabled = false
	}
	if noOCSP {
		a.cfg.OCSP.Disabled = true
	}
}

func profiles(c container.Container) map[string]container.Profile {
	m := make(map[string]container.Profile, len(c.Signatures()))
	for _, sig := range c.Signatures() {
		m[sig.ID] = sig.Profile()
	}
	return m
}

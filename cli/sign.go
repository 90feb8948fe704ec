package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/asic"
	"github.com/georgepadayatti/goasic/config"
	"github.com/georgepadayatti/goasic/container"
	"github.com/georgepadayatti/goasic/keys"
	"github.com/georgepadayatti/goasic/sign/signers"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	Profile    string
	Policy     string
	Type       string
	Append     string
	CertFile   string
	KeyFile    string
	ChainFiles []string
	PFXFile    string
	Passphrase string
	TSA        string
	OCSP       string
}

func newSignCommand(a *app) *cobra.Command {
	var opts SignOptions

	cmd := &cobra.Command{
		Use:   "sign <output> [file...]",
		Short: "Sign data files into an ASiC container",
		Long: `Create a XAdES signature over data files and raise it to the requested
baseline profile.

The files are placed in a new container of the given type, or the signature is
added to an existing container with --append. The signing credential comes
from --cert/--key, from --pfx, or from the key set of the configuration.

Examples:
  goasic sign --cert signer.pem --key signer.key out.asice a.txt b.txt
  goasic sign --pfx signer.p12 --passphrase secret --profile LTA out.asice report.pdf
  goasic sign --type asics --profile T out.asics contract.pdf
  goasic sign --append signed.asice --cert second.pem --key second.key cosigned.asice`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Append != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSign(cmd, args[0], args[1:], &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Profile, "profile", "p", "", "Signature profile: B_BES, B_EPES, T, LT, LTA (defaults to the configuration)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "Signature policy OID")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "asice", "Container type for new containers: asice, asics")
	cmd.Flags().StringVar(&opts.Append, "append", "", "Add the signature to this existing container")
	cmd.Flags().StringVar(&opts.CertFile, "cert", "", "Signing certificate (PEM or DER)")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "Unencrypted private key (PEM or DER)")
	cmd.Flags().StringSliceVar(&opts.ChainFiles, "chain", nil, "Additional chain certificates (repeatable)")
	cmd.Flags().StringVar(&opts.PFXFile, "pfx", "", "PKCS#12 file with the signing credential")
	cmd.Flags().StringVar(&opts.Passphrase, "passphrase", "", "PKCS#12 passphrase")
	cmd.Flags().StringVar(&opts.TSA, "tsa", "", "URL of the time-stamping authority (overrides the configuration)")
	cmd.Flags().StringVar(&opts.OCSP, "ocsp", "", "URL of the OCSP responder (overrides the configuration)")
	cmd.MarkFlagsRequiredTogether("cert", "key")
	cmd.MarkFlagsMutuallyExclusive("cert", "pfx")
	return cmd
}

func (a *app) runSign(cmd *cobra.Command, output string, files []string, opts *SignOptions) error {
	profile := a.cfg.Signing.ParsedProfile()
	if opts.Profile != "" {
		var err error
		if profile, err = container.ParseProfile(opts.Profile); err != nil {
			return err
		}
	}
	policy := a.cfg.Signing.PolicyOID
	if opts.Policy != "" {
		if !config.OIDRegex.MatchString(opts.Policy) {
			return fmt.Errorf("%w: %q", config.ErrInvalidOID, opts.Policy)
		}
		policy = opts.Policy
	}
	a.applySourceOverrides(opts.TSA, opts.OCSP, false)

	cred, err := a.credential(opts)
	if err != nil {
		return err
	}

	c, err := a.signTarget(opts, files)
	if err != nil {
		return err
	}

	signerOpts := []signers.Option{
		signers.WithClock(a.clock),
		signers.WithLogger(a.logger),
		signers.WithDigestAlgorithm(a.cfg.TSP.Hash()),
	}
	if policy != "" {
		signerOpts = append(signerOpts, signers.WithPolicy(policy))
	}
	signer := signers.NewSigner(a.cfg.Sources(a.logger), signerOpts...)

	sig, err := signer.Sign(cmd.Context(), c, cred.Token(), profile)
	if err != nil {
		return err
	}
	if err := asic.Save(c, output); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signature %s (%s) written to %s\n", sig.ID, sig.Profile(), output)
	return nil
}

// credential loads the signing credential from the flags, falling back to
// the configured key set.
func (a *app) credential(opts *SignOptions) (*keys.Credential, error) {
	switch {
	case opts.PFXFile != "":
		ks := &config.PKCS12SignatureConfig{PFXFile: opts.PFXFile, PFXPassphrase: opts.Passphrase, OtherCertsFiles: opts.ChainFiles}
		return ks.Load()
	case opts.CertFile != "":
		return keys.LoadPemDerCredential(opts.CertFile, opts.KeyFile, opts.ChainFiles...)
	case a.cfg.Signing.KeySet != nil:
		return a.cfg.Signing.KeySet.Load()
	default:
		return nil, errors.New("no signing credential: use --cert and --key, --pfx, or configure signing.key-set")
	}
}

// signTarget returns the container that receives the signature.
func (a *app) signTarget(opts *SignOptions, files []string) (*container.Simple, error) {
	if opts.Append != "" {
		c, err := a.open(opts.Append)
		if err != nil {
			return nil, err
		}
		simple, ok := c.(*container.Simple)
		if !ok {
			return nil, fmt.Errorf("%w: %s", signers.ErrUnsupportedContainer, c.Type())
		}
		return simple, nil
	}

	var typ container.Type
	switch strings.ToLower(opts.Type) {
	case "asice", "asic-e":
		typ = container.TypeASiCE
	case "asics", "asic-s":
		typ = container.TypeASiCS
	default:
		return nil, fmt.Errorf("unknown container type %q", opts.Type)
	}

	c := container.NewSimple(typ)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		name := filepath.Base(f)
		if err := c.AddDataFile(container.NewDataFile(name, asic.DataFileMimeType(name), data)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

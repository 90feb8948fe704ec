package cli

import (
	"context"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/config"
	"github.com/georgepadayatti/goasic/internal/responder"
	"github.com/georgepadayatti/goasic/keys"
	"github.com/georgepadayatti/goasic/sign/timestamps"
)

// ServeOptions contains options for the serve command.
type ServeOptions struct {
	Listen  string
	TSACert   string
	TSAKey    string
	TSAChain  []string
	TSAPolicy string
	CACert    string
	CAKey     string
}

func newServeCommand(a *app) *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a test time-stamping authority and OCSP responder",
		Long: `Serve a time-stamping authority on /tsa and an OCSP responder on /ocsp.

Every time-stamp request is granted and every certificate issued by the CA is
reported as good. The responders are meant for testing the timestamp, extend
and sign commands without external services.

Examples:
  goasic serve --tsa-cert tsa.pem --tsa-key tsa.key --ca-cert ca.pem --ca-key ca.key
  goasic serve --listen 127.0.0.1:9000 --tsa-cert tsa.pem --tsa-key tsa.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:8080", "Address to listen on")
	cmd.Flags().StringVar(&opts.TSACert, "tsa-cert", "", "TSA certificate (PEM or DER)")
	cmd.Flags().StringVar(&opts.TSAKey, "tsa-key", "", "TSA private key (PEM or DER)")
	cmd.Flags().StringSliceVar(&opts.TSAChain, "tsa-chain", nil, "Certificates embedded in every time-stamp token (repeatable)")
	cmd.Flags().StringVar(&opts.TSAPolicy, "tsa-policy", "", "TSA policy OID")
	cmd.Flags().StringVar(&opts.CACert, "ca-cert", "", "Certificate of the CA answered for by the OCSP responder")
	cmd.Flags().StringVar(&opts.CAKey, "ca-key", "", "Private key of the CA")
	cmd.MarkFlagsRequiredTogether("tsa-cert", "tsa-key")
	cmd.MarkFlagsRequiredTogether("ca-cert", "ca-key")
	return cmd
}

// responderOptions loads the responder credentials.
func (a *app) responderOptions(opts *ServeOptions) (responder.Options, error) {
	ro := responder.Options{Logger: a.logger}
	if opts.TSACert != "" {
		cred, err := keys.LoadPemDerCredential(opts.TSACert, opts.TSAKey)
		if err != nil {
			return ro, fmt.Errorf("failed to load TSA credential: %w", err)
		}
		chain, err := keys.LoadCertsFromPemDerFiles(opts.TSAChain)
		if err != nil {
			return ro, fmt.Errorf("failed to load TSA chain: %w", err)
		}
		tsa := timestamps.NewDummyTimeStamper(cred.Certificate, cred.PrivateKey).
			WithClock(a.clock).
			WithCertsToEmbed(chain)
		if opts.TSAPolicy != "" {
			policy, err := parseOID(opts.TSAPolicy)
			if err != nil {
				return ro, err
			}
			tsa.WithPolicy(policy)
		}
		ro.TSA = tsa
	}
	if opts.CACert != "" {
		cred, err := keys.LoadPemDerCredential(opts.CACert, opts.CAKey)
		if err != nil {
			return ro, fmt.Errorf("failed to load CA credential: %w", err)
		}
		ocsp := revinfo.NewDummyOCSPResponder(cred.Certificate, cred.PrivateKey)
		ocsp.Clock = a.clock
		ro.OCSP = ocsp
	}
	if ro.TSA == nil && ro.OCSP == nil {
		return ro, errors.New("nothing to serve: give --tsa-cert/--tsa-key or --ca-cert/--ca-key")
	}
	return ro, nil
}

func (a *app) runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ro, err := a.responderOptions(opts)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler:           responder.New(ro),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := cmd.Context()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", ln.Addr())
	a.logger.Info("responder started", "addr", ln.Addr().String(), "tsa", ro.TSA != nil, "ocsp", ro.OCSP != nil)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	a.logger.Info("responder stopped")
	return nil
}

// parseOID parses a dotted OID such as "1.2.3.4".
func parseOID(s string) (asn1.ObjectIdentifier, error) {
	if !config.OIDRegex.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidOID, s)
	}
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", config.ErrInvalidOID, s)
		}
		oid[i] = n
	}
	return oid, nil
}

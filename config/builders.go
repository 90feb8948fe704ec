package config

import (
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goasic/certvalidator/revinfo"
	"github.com/georgepadayatti/goasic/keys"
	"github.com/georgepadayatti/goasic/sign/extension"
	"github.com/georgepadayatti/goasic/sign/timestamps"
	"github.com/georgepadayatti/goasic/sign/validation"
	"github.com/georgepadayatti/goasic/sign/validation/qualified"
)

func (c *TSPConfig) timestamper(url string, logger *slog.Logger) *timestamps.HTTPTimestamper {
	ts := timestamps.NewHTTPTimestamper(url)
	ts.HTTPClient = &http.Client{Timeout: c.Timeout}
	ts.Logger = logger
	if c.Username != "" {
		ts.SetCredentials(c.Username, c.Password)
	}
	return ts
}

// SignatureSource returns a factory for the signature timestamp source. It
// yields an absent source when no URL is configured.
func (c *TSPConfig) SignatureSource(logger *slog.Logger) extension.Factory[timestamps.TSPSource] {
	return c.source(func() string { return c.URL }, logger)
}

// ArchiveSource returns a factory for the archive timestamp source.
func (c *TSPConfig) ArchiveSource(logger *slog.Logger) extension.Factory[timestamps.TSPSource] {
	return c.source(func() string { return c.ArchiveURL }, logger)
}

// source reads the URL on every resolution so that configuration changes
// between calls are picked up.
func (c *TSPConfig) source(url func() string, logger *slog.Logger) extension.Factory[timestamps.TSPSource] {
	return func() extension.Source[timestamps.TSPSource] {
		u := url()
		if u == "" {
			return extension.Absent[timestamps.TSPSource]()
		}
		return extension.Present[timestamps.TSPSource](c.timestamper(u, logger))
	}
}

// Source returns a factory for the OCSP source. It yields an absent source
// when OCSP is disabled.
func (c *OCSPConfig) Source(logger *slog.Logger) extension.Factory[revinfo.OCSPSource] {
	return func() extension.Source[revinfo.OCSPSource] {
		if c.Disabled {
			return extension.Absent[revinfo.OCSPSource]()
		}
		src := revinfo.NewHTTPOCSPSource(c.URL)
		src.HTTPClient = &http.Client{Timeout: c.Timeout}
		src.Logger = logger
		return extension.Present[revinfo.OCSPSource](src)
	}
}

// Sources returns the evidence sources for extension and signing.
func (c *Config) Sources(logger *slog.Logger) extension.Sources {
	return extension.Sources{
		SignatureTSP: c.TSP.SignatureSource(logger),
		ArchiveTSP:   c.TSP.ArchiveSource(logger),
		OCSP:         c.OCSP.Source(logger),
	}
}

// Provider creates a trusted-list provider for the configured lists. The
// provider is empty until its Refresh method is called.
func (c *TrustConfig) Provider(logger *slog.Logger, clock clockwork.Clock) (*qualified.Provider, error) {
	opts := []qualified.ProviderOption{qualified.WithLogger(logger), qualified.WithClock(clock)}

	if c.CacheDir != "" {
		cache, err := qualified.NewFileSystemTLCache(c.CacheDir, c.CacheExpiry, clock)
		if err != nil {
			return nil, fmt.Errorf("failed to open trusted list cache: %w", err)
		}
		opts = append(opts, qualified.WithFetcher(qualified.NewTLFetcher(qualified.WithCache(cache))))
	}
	if c.LOTLURL != "" {
		certs, err := keys.LoadCertsFromPemDerFiles(c.LOTLCerts)
		if err != nil {
			return nil, &ConfigError{Field: "trust.lotl-certs", Message: err.Error(), Err: err}
		}
		opts = append(opts, qualified.WithLOTL(c.LOTLURL, certs))
	}
	for i, tl := range c.TrustedLists {
		certs, err := keys.LoadCertsFromPemDerFiles(tl.SignerCerts)
		if err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("trust.trusted-lists[%d].signer-certs", i), Message: err.Error(), Err: err}
		}
		opts = append(opts, qualified.WithTrustedList(qualified.TrustedListSource{
			URL:         tl.URL,
			Territory:   tl.Territory,
			SignerCerts: certs,
		}))
	}
	if len(c.Territories) > 0 {
		opts = append(opts, qualified.WithTerritories(c.Territories...))
	}
	return qualified.NewProvider(opts...), nil
}

// TrustAnchors loads the configured trust anchor certificates.
func (c *TrustConfig) TrustAnchors() ([]*x509.Certificate, error) {
	if len(c.Anchors) == 0 {
		return nil, nil
	}
	certs, err := keys.LoadCertsFromPemDerFiles(c.Anchors)
	if err != nil {
		return nil, &ConfigError{Field: "trust.anchors", Message: err.Error(), Err: err}
	}
	return certs, nil
}

// ValidatorSettings returns validator settings with the configured
// thresholds, trust anchors and the given classifier.
func (c *Config) ValidatorSettings(classifier *qualified.Classifier, clock clockwork.Clock, logger *slog.Logger) (*validation.ValidatorSettings, error) {
	anchors, err := c.Trust.TrustAnchors()
	if err != nil {
		return nil, err
	}
	return &validation.ValidatorSettings{
		Clock:             clock,
		Classifier:        classifier,
		TrustAnchors:      anchors,
		OCSPWarnDelta:     c.Validation.OCSPWarnDelta,
		OCSPErrorDelta:    c.Validation.OCSPErrorDelta,
		StrictTerritories: c.Validation.StrictTerritories,
		Logger:            logger,
	}, nil
}

// Logger creates the configured logger. The returned close function
// releases the log file, if any.
func (c *LoggingConfig) Logger(stdout, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	closer := func() error { return nil }
	var w io.Writer
	switch c.Output {
	case "stdout":
		w = stdout
	case "stderr", "":
		w = stderr
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log output: %w", err)
		}
		w, closer = f, f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

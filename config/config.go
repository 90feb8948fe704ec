// Package config loads the YAML configuration of the signing and validation
// tools: evidence source endpoints, trusted lists, validation thresholds,
// signing credentials and logging.
package config

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/goasic/container"
)

// Common errors
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid value")
	ErrInvalidOID           = errors.New("invalid OID")
	ErrUnknownDigest        = errors.New("unknown digest algorithm")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func missing(field string) *ConfigError {
	return &ConfigError{Field: field, Message: "required field is missing", Err: ErrMissingRequiredField}
}

func invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...), Err: ErrInvalidValue}
}

// Config is the complete configuration.
type Config struct {
	TSP        TSPConfig        `yaml:"tsp"`
	OCSP       OCSPConfig       `yaml:"ocsp"`
	Trust      TrustConfig      `yaml:"trust"`
	Validation ValidationConfig `yaml:"validation"`
	Signing    SigningConfig    `yaml:"signing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.TSP.SetDefaults()
	c.OCSP.SetDefaults()
	c.Trust.SetDefaults()
	c.Validation.SetDefaults()
	c.Signing.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{&c.TSP, &c.OCSP, &c.Trust, &c.Validation, &c.Signing, &c.Logging} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads, defaults and validates a configuration file.
func LoadFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates YAML configuration data. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// TSPConfig configures the time-stamping authorities. The archive TSP is
// used for archive timestamps and ASiC-S container timestamps and defaults
// to the signature TSP.
type TSPConfig struct {
	URL             string        `yaml:"url"`
	ArchiveURL      string        `yaml:"archive-url"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Timeout         time.Duration `yaml:"timeout"`
	DigestAlgorithm string        `yaml:"digest-algorithm"`
}

// SetDefaults sets default values for the TSP configuration.
func (c *TSPConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = "sha256"
	}
	if c.ArchiveURL == "" {
		c.ArchiveURL = c.URL
	}
}

// Validate validates the TSP configuration.
func (c *TSPConfig) Validate() error {
	if c.Timeout < 0 {
		return invalid("tsp.timeout", "must not be negative")
	}
	if _, err := ParseDigestAlgorithm(c.DigestAlgorithm); err != nil {
		return &ConfigError{Field: "tsp.digest-algorithm", Message: err.Error(), Err: err}
	}
	return nil
}

// Hash returns the configured digest algorithm.
func (c *TSPConfig) Hash() crypto.Hash {
	h, _ := ParseDigestAlgorithm(c.DigestAlgorithm)
	return h
}

// OCSPConfig configures revocation data retrieval. An empty URL means the
// responder named in the certificate is used.
type OCSPConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Disabled bool          `yaml:"disabled"`
}

// SetDefaults sets default values for the OCSP configuration.
func (c *OCSPConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the OCSP configuration.
func (c *OCSPConfig) Validate() error {
	if c.Timeout < 0 {
		return invalid("ocsp.timeout", "must not be negative")
	}
	return nil
}

// TrustedListConfig is a single trusted list.
type TrustedListConfig struct {
	URL         string   `yaml:"url"`
	Territory   string   `yaml:"territory"`
	SignerCerts []string `yaml:"signer-certs"`
}

// TrustConfig configures where trusted lists come from and how they are
// cached.
type TrustConfig struct {
	LOTLURL      string              `yaml:"lotl-url"`
	LOTLCerts    []string            `yaml:"lotl-certs"`
	TrustedLists []TrustedListConfig `yaml:"trusted-lists"`
	Territories  []string            `yaml:"territories"`
	CacheDir     string              `yaml:"cache-dir"`
	CacheExpiry  time.Duration       `yaml:"cache-expiry"`
	// Anchors are PEM or DER files of CA certificates trusted in addition
	// to the CA services of the trusted lists.
	Anchors []string `yaml:"anchors"`
}

// SetDefaults sets default values for the trust configuration.
func (c *TrustConfig) SetDefaults() {
	if c.CacheExpiry == 0 {
		c.CacheExpiry = 24 * time.Hour
	}
}

// Validate validates the trust configuration.
func (c *TrustConfig) Validate() error {
	for i, tl := range c.TrustedLists {
		if tl.URL == "" {
			return missing(fmt.Sprintf("trust.trusted-lists[%d].url", i))
		}
	}
	if c.CacheExpiry < 0 {
		return invalid("trust.cache-expiry", "must not be negative")
	}
	return nil
}

// Configured reports whether any trusted list source is set.
func (c *TrustConfig) Configured() bool {
	return c.LOTLURL != "" || len(c.TrustedLists) > 0
}

// ValidationConfig holds the validation thresholds.
type ValidationConfig struct {
	OCSPWarnDelta     time.Duration `yaml:"ocsp-warn-delta"`
	OCSPErrorDelta    time.Duration `yaml:"ocsp-error-delta"`
	StrictTerritories []string      `yaml:"strict-territories"`
	MaxNestingDepth   int           `yaml:"max-nesting-depth"`
}

// SetDefaults sets default values for the validation configuration.
func (c *ValidationConfig) SetDefaults() {
	if c.OCSPWarnDelta == 0 {
		c.OCSPWarnDelta = 15 * time.Minute
	}
	if c.OCSPErrorDelta == 0 {
		c.OCSPErrorDelta = 24 * time.Hour
	}
	if c.StrictTerritories == nil {
		c.StrictTerritories = []string{"EE"}
	}
	if c.MaxNestingDepth == 0 {
		c.MaxNestingDepth = container.MaxNestingDepth
	}
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	if c.OCSPWarnDelta < 0 {
		return invalid("validation.ocsp-warn-delta", "must not be negative")
	}
	if c.OCSPErrorDelta < c.OCSPWarnDelta {
		return invalid("validation.ocsp-error-delta", "must not be below ocsp-warn-delta (%s)", c.OCSPWarnDelta)
	}
	if c.MaxNestingDepth < 1 || c.MaxNestingDepth > container.MaxNestingDepth {
		return invalid("validation.max-nesting-depth", "must be between 1 and %d", container.MaxNestingDepth)
	}
	return nil
}

// SigningConfig configures the signature created by the sign command.
type SigningConfig struct {
	Profile   string        `yaml:"profile"`
	PolicyOID string        `yaml:"policy-oid"`
	KeySet    *KeySetConfig `yaml:"key-set"`
}

// SetDefaults sets default values for the signing configuration.
func (c *SigningConfig) SetDefaults() {
	if c.Profile == "" {
		c.Profile = string(container.ProfileLT)
	}
}

// Validate validates the signing configuration.
func (c *SigningConfig) Validate() error {
	if _, err := container.ParseProfile(c.Profile); err != nil {
		return &ConfigError{Field: "signing.profile", Message: err.Error(), Err: err}
	}
	if c.PolicyOID != "" && !OIDRegex.MatchString(c.PolicyOID) {
		return &ConfigError{Field: "signing.policy-oid", Message: fmt.Sprintf("%q is not a dotted OID", c.PolicyOID), Err: ErrInvalidOID}
	}
	if c.KeySet != nil {
		return c.KeySet.Validate()
	}
	return nil
}

// ParsedProfile returns the configured profile.
func (c *SigningConfig) ParsedProfile() container.Profile {
	p, _ := container.ParseProfile(c.Profile)
	return p
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is the log format (text, json).
	Format string `yaml:"format"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return invalid("logging.level", "%v", err)
	}
	if c.Format != "text" && c.Format != "json" {
		return invalid("logging.format", "must be text or json, got %q", c.Format)
	}
	return nil
}

var digestAlgorithms = map[string]crypto.Hash{
	"sha224":   crypto.SHA224,
	"sha256":   crypto.SHA256,
	"sha384":   crypto.SHA384,
	"sha512":   crypto.SHA512,
	"sha3-256": crypto.SHA3_256,
	"sha3-384": crypto.SHA3_384,
	"sha3-512": crypto.SHA3_512,
}

// ParseDigestAlgorithm maps a digest name such as "sha256" or "SHA3-512"
// to its crypto.Hash.
func ParseDigestAlgorithm(name string) (crypto.Hash, error) {
	h, ok := digestAlgorithms[strings.ToLower(strings.ReplaceAll(name, "_", "-"))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDigest, name)
	}
	return h, nil
}

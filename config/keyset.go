package config

import (
	"fmt"

	"github.com/georgepadayatti/goasic/keys"
)

// Key set types.
const (
	KeySetPemDer = "pemder"
	KeySetPKCS12 = "pkcs12"
)

// PKCS12SignatureConfig contains configuration for signing using a PKCS#12 file.
type PKCS12SignatureConfig struct {
	// PFXFile is the path to the PKCS#12 file.
	PFXFile string `yaml:"pfx-file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase"`
}

// Validate validates the PKCS12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return missing("signing.key-set.pkcs12.pfx-file")
	}
	return nil
}

// Load loads the credential from the PKCS#12 file. Certificates from
// OtherCertsFiles are appended to the chain found in the bundle.
func (c *PKCS12SignatureConfig) Load() (*keys.Credential, error) {
	cred, err := keys.LoadPKCS12(c.PFXFile, c.PFXPassphrase)
	if err != nil {
		return nil, err
	}
	others, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load other certs: %w", err)
	}
	cred.Chain = append(cred.Chain, others...)
	return cred, nil
}

// PemDerSignatureConfig contains configuration for signing using PEM/DER files.
type PemDerSignatureConfig struct {
	// KeyFile is the path to the unencrypted private key file.
	KeyFile string `yaml:"key-file"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"cert-file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs"`
}

// Validate validates the PEM/DER signature configuration.
func (c *PemDerSignatureConfig) Validate() error {
	if c.KeyFile == "" {
		return missing("signing.key-set.pemder.key-file")
	}
	if c.CertFile == "" {
		return missing("signing.key-set.pemder.cert-file")
	}
	return nil
}

// Load loads the certificate and key from the configured files.
func (c *PemDerSignatureConfig) Load() (*keys.Credential, error) {
	return keys.LoadPemDerCredential(c.CertFile, c.KeyFile, c.OtherCertsFiles...)
}

// KeySetConfig contains configuration for a set of signing credentials.
type KeySetConfig struct {
	// Type is the type of key set ("pemder" or "pkcs12").
	Type string `yaml:"type"`

	// PemDer contains PEM/DER configuration (if type is "pemder").
	PemDer *PemDerSignatureConfig `yaml:"pemder"`

	// PKCS12 contains PKCS#12 configuration (if type is "pkcs12").
	PKCS12 *PKCS12SignatureConfig `yaml:"pkcs12"`
}

// Validate validates the key set configuration.
func (c *KeySetConfig) Validate() error {
	switch c.Type {
	case KeySetPemDer:
		if c.PemDer == nil {
			return missing("signing.key-set.pemder")
		}
		return c.PemDer.Validate()
	case KeySetPKCS12:
		if c.PKCS12 == nil {
			return missing("signing.key-set.pkcs12")
		}
		return c.PKCS12.Validate()
	case "":
		return missing("signing.key-set.type")
	default:
		return invalid("signing.key-set.type", "unknown key set type %q", c.Type)
	}
}

// Load loads the configured credential.
func (c *KeySetConfig) Load() (*keys.Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Type == KeySetPKCS12 {
		return c.PKCS12.Load()
	}
	return c.PemDer.Load()
}

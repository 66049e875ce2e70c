// Package config loads the qscep YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/qscep/internal/cms"
	"github.com/remiblancher/qscep/internal/scep"
	"github.com/remiblancher/qscep/internal/x509util"
)

// Signature OID styles for RSA signers.
const (
	SignatureOIDRSA  = "rsa"
	SignatureOIDHash = "hash"
)

// Config is the top-level configuration file.
type Config struct {
	Defaults Defaults `yaml:"defaults"`
	CSRCheck CSRCheck `yaml:"csr_check"`
	Server   Server   `yaml:"server"`
}

// Defaults are the build options used when no flag overrides them.
type Defaults struct {
	Digest       string `yaml:"digest"`
	Cipher       string `yaml:"cipher"`
	SigningTime  bool   `yaml:"signing_time"`
	SignatureOID string `yaml:"signature_oid"`
}

// CSRCheck configures the certificate request preflight.
type CSRCheck struct {
	Enabled            bool `yaml:"enabled"`
	ForbidPublicSuffix bool `yaml:"forbid_public_suffix"`
	AllowSingleLabel   bool `yaml:"allow_single_label"`
}

// Server configures `qscep serve`.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Default returns the built-in configuration: the legacy MD5 and
// DES-EDE3-CBC pair most SCEP servers accept.
func Default() *Config {
	return &Config{
		Defaults: Defaults{
			Digest:       "md5",
			Cipher:       "des3",
			SigningTime:  true,
			SignatureOID: SignatureOIDRSA,
		},
		CSRCheck: CSRCheck{
			Enabled:            true,
			ForbidPublicSuffix: true,
		},
		Server: Server{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
	}
}

// Load reads path and merges it over Default. An empty path returns the
// defaults.
func Load(path string, reg *cms.Registry) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, reg)
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Parse(data []byte, reg *cms.Registry) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(reg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks algorithm names against reg and the server settings.
func (c *Config) Validate(reg *cms.Registry) error {
	if reg == nil {
		return errors.New("algorithm registry is required")
	}
	if _, err := reg.Digest(c.Defaults.Digest); err != nil {
		return fmt.Errorf("defaults.digest: %w", err)
	}
	if _, err := reg.Cipher(c.Defaults.Cipher); err != nil {
		return fmt.Errorf("defaults.cipher: %w", err)
	}
	switch c.Defaults.SignatureOID {
	case SignatureOIDRSA, SignatureOIDHash:
	default:
		return fmt.Errorf("defaults.signature_oid: must be %q or %q, got %q",
			SignatureOIDRSA, SignatureOIDHash, c.Defaults.SignatureOID)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: out of range: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	return nil
}

// UsesLegacyDefaults reports whether both legacy algorithms are in effect.
func (d Defaults) UsesLegacyDefaults(reg *cms.Registry) bool {
	digest, err := reg.Digest(d.Digest)
	if err != nil {
		return false
	}
	cipher, err := reg.Cipher(d.Cipher)
	if err != nil {
		return false
	}
	return digest.Name == cms.DefaultDigest && cipher.Name == cms.DefaultCipher
}

// BuilderOptions translates the defaults and CSR check into builder
// options.
func (c *Config) BuilderOptions() []scep.Option {
	opts := []scep.Option{
		scep.WithDigest(c.Defaults.Digest),
		scep.WithCipher(c.Defaults.Cipher),
	}
	if !c.Defaults.SigningTime {
		opts = append(opts, scep.WithoutSigningTime())
	}
	if c.Defaults.SignatureOID == SignatureOIDHash {
		opts = append(opts, scep.WithHashedRSASignatureOID())
	}
	if c.CSRCheck.Enabled {
		opts = append(opts, scep.WithCSRPolicy(x509util.CSRPolicy{
			ForbidPublicSuffix: c.CSRCheck.ForbidPublicSuffix,
			AllowSingleLabel:   c.CSRCheck.AllowSingleLabel,
		}))
	}
	return opts
}

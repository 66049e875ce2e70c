package crypto

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HSMConfig is the YAML description of a PKCS#11 token:
//
//	type: pkcs11
//	pkcs11:
//	  lib: /usr/lib/softhsm/libsofthsm2.so
//	  token: scep-client
//	  pin_env: SCEP_HSM_PIN
type HSMConfig struct {
	Type   string         `yaml:"type"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
}

// PKCS11Settings locates the token. The PIN never lives in the file.
type PKCS11Settings struct {
	Lib         string `yaml:"lib"`
	Token       string `yaml:"token"`
	TokenSerial string `yaml:"token_serial"`
	Slot        *uint  `yaml:"slot"`
	PinEnv      string `yaml:"pin_env"`
}

// LoadHSMConfig reads and validates an HSM config file.
func LoadHSMConfig(path string) (*HSMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HSM config file: %w", err)
	}
	return ParseHSMConfig(data)
}

// ParseHSMConfig parses and validates HSM config YAML.
func ParseHSMConfig(data []byte) (*HSMConfig, error) {
	var cfg HSMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse HSM config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid HSM config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the token can be located and a PIN source is named.
func (c *HSMConfig) Validate() error {
	if c.Type != "pkcs11" {
		return fmt.Errorf("unsupported HSM type: %q (only \"pkcs11\" is supported)", c.Type)
	}
	if c.PKCS11.Lib == "" {
		return errors.New("pkcs11.lib is required")
	}
	if c.PKCS11.Token == "" && c.PKCS11.TokenSerial == "" && c.PKCS11.Slot == nil {
		return errors.New("one of pkcs11.token, pkcs11.token_serial or pkcs11.slot is required")
	}
	if c.PKCS11.PinEnv == "" {
		return errors.New("pkcs11.pin_env is required")
	}
	return nil
}

// PIN reads the token PIN from the configured environment variable.
func (c *HSMConfig) PIN() (string, error) {
	pin := os.Getenv(c.PKCS11.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PKCS11.PinEnv)
	}
	return pin, nil
}

// SignerConfig returns the PKCS#11 signer settings for the key with the
// given label and/or hex CKA_ID.
func (c *HSMConfig) SignerConfig(keyLabel, keyID string) (PKCS11Config, error) {
	pin, err := c.PIN()
	if err != nil {
		return PKCS11Config{}, err
	}
	return PKCS11Config{
		ModulePath:  c.PKCS11.Lib,
		TokenLabel:  c.PKCS11.Token,
		TokenSerial: c.PKCS11.TokenSerial,
		SlotID:      c.PKCS11.Slot,
		PIN:         pin,
		KeyLabel:    keyLabel,
		KeyID:       keyID,
	}, nil
}

// PKCS11Config identifies a private key in a PKCS#11 token.
type PKCS11Config struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	SlotID      *uint
	PIN         string
	KeyLabel    string
	KeyID       string // hex CKA_ID
}

// Validate checks the fields NewPKCS11Signer needs.
func (c PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return errors.New("PKCS#11 module path is required")
	}
	if c.KeyLabel == "" && c.KeyID == "" {
		return errors.New("at least one of key label or key ID is required")
	}
	return nil
}

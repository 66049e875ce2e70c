package crypto

import (
	"errors"
	"fmt"
)

// KeySource says where the signing key lives: a PEM file, PEM bytes, or
// a token named by an HSM config file.
type KeySource struct {
	Path       string
	PEM        []byte
	Passphrase string // literal or "env:VAR"

	HSMConfig string
	KeyLabel  string
	KeyID     string
}

// IsHSM reports whether the key is held in a PKCS#11 token.
func (k KeySource) IsHSM() bool {
	return k.HSMConfig != ""
}

// Describe returns a log-safe description of the key location.
func (k KeySource) Describe() string {
	switch {
	case k.IsHSM():
		if k.KeyLabel != "" {
			return fmt.Sprintf("pkcs11:%s", k.KeyLabel)
		}
		return fmt.Sprintf("pkcs11:id=%s", k.KeyID)
	case k.Path != "":
		return k.Path
	default:
		return "inline"
	}
}

// OpenSigner loads the key described by k.
func OpenSigner(k KeySource) (Signer, error) {
	if k.IsHSM() {
		hsm, err := LoadHSMConfig(k.HSMConfig)
		if err != nil {
			return nil, err
		}
		cfg, err := hsm.SignerConfig(k.KeyLabel, k.KeyID)
		if err != nil {
			return nil, err
		}
		return NewPKCS11Signer(cfg)
	}

	passphrase := ResolvePassphrase(k.Passphrase)
	switch {
	case k.Path != "":
		return LoadPrivateKey(k.Path, passphrase)
	case len(k.PEM) > 0:
		return ParsePrivateKey(k.PEM, passphrase)
	default:
		return nil, errors.New("no private key specified")
	}
}

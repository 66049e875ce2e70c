package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
)

// ErrPassphraseRequired is returned for an encrypted key loaded without a
// passphrase.
var ErrPassphraseRequired = errors.New("private key is encrypted but no passphrase provided")

// SoftwareSigner signs with a private key held in memory.
type SoftwareSigner struct {
	alg     AlgorithmID
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	keyPath string
}

var _ Signer = (*SoftwareSigner)(nil)

// NewSoftwareSigner wraps an in-memory private key.
func NewSoftwareSigner(priv crypto.PrivateKey) (*SoftwareSigner, error) {
	pub, err := publicOf(priv)
	if err != nil {
		return nil, err
	}
	return &SoftwareSigner{alg: AlgorithmOf(pub), priv: priv, pub: pub}, nil
}

// Algorithm returns the key algorithm.
func (s *SoftwareSigner) Algorithm() AlgorithmID {
	return s.alg
}

// Public returns the public key.
func (s *SoftwareSigner) Public() crypto.PublicKey {
	return s.pub
}

// KeyPath returns the file the key was loaded from, if any.
func (s *SoftwareSigner) KeyPath() string {
	return s.keyPath
}

// Sign signs digest. RSA keys produce PKCS#1 v1.5 signatures for
// opts.HashFunc(), which may be MD5 or SHA-1 for legacy SCEP servers,
// or RSA-PSS when opts is *rsa.PSSOptions. EdDSA keys expect the full
// message.
func (s *SoftwareSigner) Sign(random io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	switch priv := s.priv.(type) {
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(random, priv, digest)

	case ed25519.PrivateKey:
		return ed25519.Sign(priv, digest), nil

	case ed448.PrivateKey:
		return ed448.Sign(priv, digest, ""), nil

	case *rsa.PrivateKey:
		if pssOpts, ok := opts.(*rsa.PSSOptions); ok {
			return rsa.SignPSS(random, priv, pssOpts.Hash, digest, pssOpts)
		}
		hash := crypto.SHA256
		if opts != nil {
			hash = opts.HashFunc()
		}
		return rsa.SignPKCS1v15(random, priv, hash, digest)

	default:
		return nil, fmt.Errorf("unsupported private key type: %T", priv)
	}
}

// PrivateKey returns the underlying key. Used for envelope decryption in
// inspect; signing should go through Sign.
func (s *SoftwareSigner) PrivateKey() crypto.PrivateKey {
	return s.priv
}

// LoadPrivateKey reads a PEM private key from path.
func LoadPrivateKey(path string, passphrase []byte) (*SoftwareSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	s, err := ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.keyPath = path
	return s, nil
}

// ParsePrivateKey parses the first PEM block of data. PKCS#8, PKCS#1 and
// SEC1 blocks are accepted, optionally with legacy PEM encryption. PKCS#8
// may carry RSA, ECDSA, Ed25519 or Ed448 keys.
func ParsePrivateKey(data, passphrase []byte) (*SoftwareSigner, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	var priv crypto.PrivateKey
	var err error
	switch block.Type {
	case "PRIVATE KEY":
		priv, err = parsePKCS8(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA key: %w", err)
		}
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC key: %w", err)
		}
	case "ENCRYPTED PRIVATE KEY":
		return nil, errors.New("PKCS#8 encrypted keys are not supported, convert with: openssl pkcs8 -traditional")
	default:
		return nil, fmt.Errorf("unknown PEM type: %s", block.Type)
	}

	return NewSoftwareSigner(priv)
}

func parsePKCS8(der []byte) (crypto.PrivateKey, error) {
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err == nil {
		return priv, nil
	}
	// crypto/x509 has no Ed448 support.
	if edPriv, edErr := ParseEd448PrivateKey(der); edErr == nil {
		return edPriv, nil
	}
	return nil, err
}

func publicOf(priv crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	case ed448.PrivateKey:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", priv)
	}
}

// ResolvePassphrase resolves a passphrase that may be "env:VAR_NAME".
func ResolvePassphrase(passphrase string) []byte {
	if passphrase == "" {
		return nil
	}
	if name, ok := strings.CutPrefix(passphrase, "env:"); ok && name != "" {
		return []byte(os.Getenv(name))
	}
	return []byte(passphrase)
}

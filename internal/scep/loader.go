package scep

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	qcrypto "github.com/remiblancher/qscep/internal/crypto"
)

// ReadFile reads an input file, classifying failures as ErrIO.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError("read "+path, err)
	}
	return data, nil
}

// ParseCertificatePEM parses the first CERTIFICATE block of data, or data
// itself when it is DER.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	der, err := pemOrDER(data, "CERTIFICATE")
	if err != nil {
		return nil, inputError("parse certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, inputError("parse certificate", err)
	}
	return cert, nil
}

// ParseCSRPEM parses a PKCS#10 request in PEM (either label) or DER form.
func ParseCSRPEM(data []byte) (*x509.CertificateRequest, error) {
	der, err := pemOrDER(data, "CERTIFICATE REQUEST", "NEW CERTIFICATE REQUEST")
	if err != nil {
		return nil, inputError("parse certificate request", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, inputError("parse certificate request", err)
	}
	return csr, nil
}

func pemOrDER(data []byte, types ...string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		if len(data) > 0 && data[0] == 0x30 {
			return data, nil
		}
		return nil, errors.New("no PEM block found")
	}
	for _, t := range types {
		if block.Type == t {
			return block.Bytes, nil
		}
	}
	return nil, fmt.Errorf("unexpected PEM block %q, want %q", block.Type, types[0])
}

// LoadIdentity pairs a PEM certificate with its PEM private key.
// passphrase may use the "env:VAR" form.
func LoadIdentity(certPEM, keyPEM []byte, passphrase string) (Identity, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return Identity{}, err
	}
	signer, err := qcrypto.ParsePrivateKey(keyPEM, qcrypto.ResolvePassphrase(passphrase))
	if err != nil {
		return Identity{}, inputError("parse private key", err)
	}
	return Identity{Certificate: cert, Signer: signer}, nil
}

// LoadIdentityPKCS12 extracts the certificate and key from a PKCS#12
// bundle. Only the legacy 3DES/RC2 bundles x/crypto understands are
// accepted.
func LoadIdentityPKCS12(data []byte, password string) (Identity, error) {
	priv, cert, err := pkcs12.Decode(data, string(qcrypto.ResolvePassphrase(password)))
	if err != nil {
		return Identity{}, inputError("decode PKCS#12", err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return Identity{}, inputError("decode PKCS#12", fmt.Errorf("unsupported key type %T", priv))
	}
	return Identity{Certificate: cert, Signer: signer}, nil
}

// OpenIdentity loads the signer certificate from certPath and its key from
// src, which may point at an HSM.
func OpenIdentity(certPath string, src qcrypto.KeySource) (Identity, error) {
	certPEM, err := ReadFile(certPath)
	if err != nil {
		return Identity{}, err
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return Identity{}, err
	}
	if src.Path != "" {
		if _, err := os.Stat(src.Path); err != nil {
			return Identity{}, ioError("read "+src.Path, err)
		}
	}
	signer, err := qcrypto.OpenSigner(src)
	if err != nil {
		return Identity{}, inputError("load private key", err)
	}
	return Identity{Certificate: cert, Signer: signer}, nil
}

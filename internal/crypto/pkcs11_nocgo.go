//go:build !cgo

package crypto

import (
	"crypto"
	"errors"
	"io"
)

var errNoCGO = errors.New("HSM support requires CGO (build with CGO_ENABLED=1)")

// PKCS11Signer is unavailable without cgo.
type PKCS11Signer struct{}

var _ Signer = (*PKCS11Signer)(nil)

// NewPKCS11Signer always fails without cgo.
func NewPKCS11Signer(_ PKCS11Config) (*PKCS11Signer, error) {
	return nil, errNoCGO
}

func (s *PKCS11Signer) Algorithm() AlgorithmID { return "" }
func (s *PKCS11Signer) Public() crypto.PublicKey { return nil }
func (s *PKCS11Signer) Close() error { return nil }
func (s *PKCS11Signer) Sign(io.Reader, []byte, crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCGO
}

// CloseAllPools is a no-op without cgo.
func CloseAllPools() {}

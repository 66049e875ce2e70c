// Package crypto loads the signing keys used to build SCEP requests:
// software keys from PEM files and keys held in a PKCS#11 token.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"

	"github.com/cloudflare/circl/sign/ed448"
)

// AlgorithmID names the key algorithm of a signer.
type AlgorithmID string

const (
	AlgECDSAP256 AlgorithmID = "ecdsa-p256"
	AlgECDSAP384 AlgorithmID = "ecdsa-p384"
	AlgECDSAP521 AlgorithmID = "ecdsa-p521"
	AlgEd25519   AlgorithmID = "ed25519"
	AlgEd448     AlgorithmID = "ed448"
	AlgRSA2048   AlgorithmID = "rsa-2048"
	AlgRSA3072   AlgorithmID = "rsa-3072"
	AlgRSA4096   AlgorithmID = "rsa-4096"
)

// Signer is a crypto.Signer that knows its key algorithm.
type Signer interface {
	crypto.Signer

	// Algorithm returns the key algorithm.
	Algorithm() AlgorithmID
}

// AlgorithmOf reports the AlgorithmID of a public key, or "" when the key
// type is not supported.
func AlgorithmOf(pub crypto.PublicKey) AlgorithmID {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return AlgECDSAP256
		case 384:
			return AlgECDSAP384
		case 521:
			return AlgECDSAP521
		}
	case ed25519.PublicKey:
		return AlgEd25519
	case ed448.PublicKey:
		return AlgEd448
	case *rsa.PublicKey:
		switch bits := k.N.BitLen(); {
		case bits <= 2048:
			return AlgRSA2048
		case bits <= 3072:
			return AlgRSA3072
		default:
			return AlgRSA4096
		}
	}
	return ""
}

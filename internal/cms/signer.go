package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed448"
)

// DigestAlgorithmIdentifier returns the AlgorithmIdentifier for d. MD5,
// SHA-1 and SHA-2 carry an explicit NULL parameter, as OpenSSL writes them
// in PKCS#7; SHA-3 identifiers have absent parameters (RFC 8702).
func DigestAlgorithmIdentifier(d DigestAlgorithm) pkix.AlgorithmIdentifier {
	switch d.Hash {
	case crypto.SHA3_256, crypto.SHA3_384, crypto.SHA3_512:
		return pkix.AlgorithmIdentifier{Algorithm: d.OID}
	default:
		return pkix.AlgorithmIdentifier{Algorithm: d.OID, Parameters: asn1.NullRawValue}
	}
}

// SignatureAlgorithmIdentifier returns the SignerInfo signatureAlgorithm for
// a signer whose public key is pub.
//
// For RSA the PKCS#7 convention is the bare rsaEncryption OID; hashedRSA
// selects the combined <digest>WithRSAEncryption OID instead.
func SignatureAlgorithmIdentifier(pub crypto.PublicKey, d DigestAlgorithm, hashedRSA bool) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		if !hashedRSA {
			return pkix.AlgorithmIdentifier{Algorithm: OIDRSAEncryption, Parameters: asn1.NullRawValue}, nil
		}
		if d.RSAOID == nil {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: RSA with %s", ErrUnsupportedAlgorithm, d.Name)
		}
		return pkix.AlgorithmIdentifier{Algorithm: d.RSAOID, Parameters: asn1.NullRawValue}, nil
	case *ecdsa.PublicKey:
		if d.ECDSAOID == nil {
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: ECDSA with %s", ErrUnsupportedAlgorithm, d.Name)
		}
		return pkix.AlgorithmIdentifier{Algorithm: d.ECDSAOID}, nil
	case ed25519.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	case ed448.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd448}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// SignAttributes signs the DER SET OF signed attributes.
// EdDSA keys sign the encoding directly; RSA and ECDSA sign its digest.
func SignAttributes(random io.Reader, signer crypto.Signer, d DigestAlgorithm, signedAttrs []byte) ([]byte, error) {
	switch signer.Public().(type) {
	case ed25519.PublicKey, ed448.PublicKey:
		return signer.Sign(random, signedAttrs, crypto.Hash(0))
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return signer.Sign(random, d.Sum(signedAttrs), d.Hash)
	default:
		return nil, fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, signer.Public())
	}
}

// VerifyAttributes checks signature over the DER SET OF signed attributes.
func VerifyAttributes(pub crypto.PublicKey, d DigestAlgorithm, signedAttrs, signature []byte) error {
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, d.Hash, d.Sum(signedAttrs), signature); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, d.Sum(signedAttrs), signature) {
			return ErrInvalidSignature
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, signedAttrs, signature) {
			return ErrInvalidSignature
		}
	case ed448.PublicKey:
		if !ed448.Verify(pub, signedAttrs, signature, "") {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, pub)
	}
	return nil
}

// Package x509util holds certificate and request helpers used around the
// SCEP builder: CSR preflight checks and key descriptions for display.
package x509util

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"github.com/remiblancher/qscep/internal/cms"
)

// ExtractSPKIAlgorithmOID extracts the algorithm OID from RawSubjectPublicKeyInfo.
func ExtractSPKIAlgorithmOID(rawSPKI []byte) (asn1.ObjectIdentifier, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(rawSPKI, &spki); err != nil {
		return nil, err
	}
	return spki.Algorithm.Algorithm, nil
}

// DescribeKey returns a short description of the certificate's key, such
// as "RSA 2048" or "ECDSA P-256".
func DescribeKey(cert *x509.Certificate) string {
	if cert == nil {
		return "none"
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", pub.N.BitLen())
	case *ecdsa.PublicKey:
		return "ECDSA " + pub.Curve.Params().Name
	case ed25519.PublicKey:
		return "Ed25519"
	}

	oid, err := ExtractSPKIAlgorithmOID(cert.RawSubjectPublicKeyInfo)
	if err != nil {
		return "unknown"
	}
	if oid.Equal(cms.OIDEd448) {
		return "Ed448"
	}
	return "unknown (" + oid.String() + ")"
}

// CanReceiveEnvelope reports whether cert can be an envelope recipient.
// SCEP key transport is RSA only.
func CanReceiveEnvelope(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	_, ok := cert.PublicKey.(*rsa.PublicKey)
	return ok
}

var algorithmNames = []struct {
	oid  asn1.ObjectIdentifier
	name string
}{
	{cms.OIDRSAEncryption, "rsaEncryption"},
	{cms.OIDMD5WithRSA, "md5WithRSAEncryption"},
	{cms.OIDSHA1WithRSA, "sha1WithRSAEncryption"},
	{cms.OIDSHA224WithRSA, "sha224WithRSAEncryption"},
	{cms.OIDSHA256WithRSA, "sha256WithRSAEncryption"},
	{cms.OIDSHA384WithRSA, "sha384WithRSAEncryption"},
	{cms.OIDSHA512WithRSA, "sha512WithRSAEncryption"},
	{cms.OIDSHA3_256WithRSA, "id-rsassa-pkcs1-v1_5-with-sha3-256"},
	{cms.OIDSHA3_384WithRSA, "id-rsassa-pkcs1-v1_5-with-sha3-384"},
	{cms.OIDSHA3_512WithRSA, "id-rsassa-pkcs1-v1_5-with-sha3-512"},
	{cms.OIDECDSAWithSHA224, "ecdsa-with-SHA224"},
	{cms.OIDECDSAWithSHA256, "ecdsa-with-SHA256"},
	{cms.OIDECDSAWithSHA384, "ecdsa-with-SHA384"},
	{cms.OIDECDSAWithSHA512, "ecdsa-with-SHA512"},
	{cms.OIDECDSAWithSHA3_256, "id-ecdsa-with-sha3-256"},
	{cms.OIDECDSAWithSHA3_384, "id-ecdsa-with-sha3-384"},
	{cms.OIDECDSAWithSHA3_512, "id-ecdsa-with-sha3-512"},
	{cms.OIDEd25519, "Ed25519"},
	{cms.OIDEd448, "Ed448"},
}

// SignatureAlgorithmName returns the conventional name of a SignerInfo
// signature algorithm, or the dotted OID when it is not known.
func SignatureAlgorithmName(oid asn1.ObjectIdentifier) string {
	for _, a := range algorithmNames {
		if a.oid.Equal(oid) {
			return a.name
		}
	}
	return oid.String()
}

package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// testKeyPair holds a key pair for testing.
type testKeyPair struct {
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Algorithm  string
}

func generateECDSAKeyPair(t *testing.T, curve elliptic.Curve) *testKeyPair {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}
	return &testKeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey, Algorithm: "ECDSA"}
}

func generateRSAKeyPair(t *testing.T, bits int) *testKeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return &testKeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey, Algorithm: "RSA"}
}

func generateEd25519KeyPair(t *testing.T) *testKeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate Ed25519 key: %v", err)
	}
	return &testKeyPair{PrivateKey: priv, PublicKey: pub, Algorithm: "Ed25519"}
}

// generateTestCertificate creates a self-signed certificate for kp.
func generateTestCertificate(t *testing.T, kp *testKeyPair, cn string) *x509.Certificate {
	t.Helper()

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("Failed to generate serial number: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now().Add(-1 * time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

// buildSignedData assembles a single-signer SignedData over content with
// contentType, messageDigest and extra attributes, and returns its DER.
func buildSignedData(t *testing.T, kp *testKeyPair, cert *x509.Certificate, d DigestAlgorithm, content []byte, extra ...Attribute) []byte {
	t.Helper()

	ct, err := NewContentTypeAttr(OIDData)
	if err != nil {
		t.Fatalf("NewContentTypeAttr() error = %v", err)
	}
	md, err := NewMessageDigestAttr(d.Sum(content))
	if err != nil {
		t.Fatalf("NewMessageDigestAttr() error = %v", err)
	}
	attrs := append([]Attribute{ct, md}, extra...)

	set, err := MarshalSignedAttrs(attrs)
	if err != nil {
		t.Fatalf("MarshalSignedAttrs() error = %v", err)
	}
	sig, err := SignAttributes(rand.Reader, kp.PrivateKey, d, set)
	if err != nil {
		t.Fatalf("SignAttributes() error = %v", err)
	}
	sigAlg, err := SignatureAlgorithmIdentifier(kp.PublicKey, d, false)
	if err != nil {
		t.Fatalf("SignatureAlgorithmIdentifier() error = %v", err)
	}
	eci, err := NewEncapsulatedContent(OIDData, content)
	if err != nil {
		t.Fatalf("NewEncapsulatedContent() error = %v", err)
	}
	certs, err := NewCertificateSet(cert)
	if err != nil {
		t.Fatalf("NewCertificateSet() error = %v", err)
	}

	sd := SignedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{DigestAlgorithmIdentifier(d)},
		EncapContentInfo: eci,
		Certificates:     certs,
		SignerInfos: []SignerInfo{{
			Version:            1,
			SID:                NewIssuerAndSerial(cert),
			DigestAlgorithm:    DigestAlgorithmIdentifier(d),
			SignedAttrs:        ImplicitSignedAttrs(set),
			SignatureAlgorithm: sigAlg,
			Signature:          sig,
		}},
	}
	der, err := WrapContentInfo(OIDSignedData, sd)
	if err != nil {
		t.Fatalf("WrapContentInfo() error = %v", err)
	}
	return der
}

func mustDigest(t *testing.T, name string) DigestAlgorithm {
	t.Helper()
	d, err := NewRegistry().Digest(name)
	if err != nil {
		t.Fatalf("Digest(%q) error = %v", name, err)
	}
	return d
}

func mustCipher(t *testing.T, name string) CipherAlgorithm {
	t.Helper()
	c, err := NewRegistry().Cipher(name)
	if err != nil {
		t.Fatalf("Cipher(%q) error = %v", name, err)
	}
	return c
}

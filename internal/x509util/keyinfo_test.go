package x509util

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/remiblancher/qscep/internal/cms"
)

func selfSignedCert(t *testing.T, key crypto.Signer) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func TestU_DescribeKey(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	ecKey, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	_, edKey, _ := ed25519.GenerateKey(rand.Reader)

	tests := []struct {
		name string
		key  crypto.Signer
		want string
		kt   bool
	}{
		{"RSA", rsaKey, "RSA 2048", true},
		{"ECDSA", ecKey, "ECDSA P-384", false},
		{"Ed25519", edKey, "Ed25519", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := selfSignedCert(t, tt.key)
			if got := DescribeKey(cert); got != tt.want {
				t.Errorf("DescribeKey() = %q, want %q", got, tt.want)
			}
			if got := CanReceiveEnvelope(cert); got != tt.kt {
				t.Errorf("CanReceiveEnvelope() = %v, want %v", got, tt.kt)
			}
		})
	}

	if DescribeKey(nil) != "none" {
		t.Error("DescribeKey(nil) should be none")
	}
	if CanReceiveEnvelope(nil) {
		t.Error("CanReceiveEnvelope(nil) should be false")
	}
}

func TestU_ExtractSPKIAlgorithmOID(t *testing.T) {
	_, edKey, _ := ed25519.GenerateKey(rand.Reader)
	cert := selfSignedCert(t, edKey)

	oid, err := ExtractSPKIAlgorithmOID(cert.RawSubjectPublicKeyInfo)
	if err != nil {
		t.Fatalf("ExtractSPKIAlgorithmOID() error = %v", err)
	}
	if !oid.Equal(cms.OIDEd25519) {
		t.Errorf("OID = %v, want %v", oid, cms.OIDEd25519)
	}
	if _, err := ExtractSPKIAlgorithmOID([]byte{0x01}); err == nil {
		t.Error("ExtractSPKIAlgorithmOID() should fail on garbage")
	}
}

func TestU_SignatureAlgorithmName(t *testing.T) {
	tests := []struct {
		oid  asn1.ObjectIdentifier
		want string
	}{
		{cms.OIDRSAEncryption, "rsaEncryption"},
		{cms.OIDSHA256WithRSA, "sha256WithRSAEncryption"},
		{cms.OIDECDSAWithSHA384, "ecdsa-with-SHA384"},
		{cms.OIDEd448, "Ed448"},
		{asn1.ObjectIdentifier{1, 2, 3}, "1.2.3"},
	}
	for _, tt := range tests {
		if got := SignatureAlgorithmName(tt.oid); got != tt.want {
			t.Errorf("SignatureAlgorithmName(%v) = %q, want %q", tt.oid, got, tt.want)
		}
	}
}

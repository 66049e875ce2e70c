package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudflare/circl/sign/ed448"
)

// =============================================================================
// Helpers
// =============================================================================

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func pemBytes(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// =============================================================================
// ParsePrivateKey
// =============================================================================

func TestU_ParsePrivateKey_Formats(t *testing.T) {
	rsaKey := generateRSAKey(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	pkcs8RSA, _ := x509.MarshalPKCS8PrivateKey(rsaKey)
	pkcs8EC, _ := x509.MarshalPKCS8PrivateKey(ecKey)
	pkcs8Ed, _ := x509.MarshalPKCS8PrivateKey(edKey)
	sec1, _ := x509.MarshalECPrivateKey(ecKey)

	tests := []struct {
		name string
		data []byte
		alg  AlgorithmID
	}{
		{"[Unit] PKCS#1 RSA", pemBytes("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)), AlgRSA2048},
		{"[Unit] PKCS#8 RSA", pemBytes("PRIVATE KEY", pkcs8RSA), AlgRSA2048},
		{"[Unit] PKCS#8 ECDSA", pemBytes("PRIVATE KEY", pkcs8EC), AlgECDSAP256},
		{"[Unit] SEC1 ECDSA", pemBytes("EC PRIVATE KEY", sec1), AlgECDSAP256},
		{"[Unit] PKCS#8 Ed25519", pemBytes("PRIVATE KEY", pkcs8Ed), AlgEd25519},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParsePrivateKey(tt.data, nil)
			if err != nil {
				t.Fatalf("ParsePrivateKey() error = %v", err)
			}
			if s.Algorithm() != tt.alg {
				t.Errorf("Algorithm() = %s, want %s", s.Algorithm(), tt.alg)
			}
			if s.Public() == nil {
				t.Error("Public() returned nil")
			}
		})
	}
}

func TestU_ParsePrivateKey_Ed448(t *testing.T) {
	_, priv, err := ed448.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := MarshalEd448PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalEd448PrivateKey() error = %v", err)
	}

	s, err := ParsePrivateKey(pemBytes("PRIVATE KEY", der), nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	if s.Algorithm() != AlgEd448 {
		t.Fatalf("Algorithm() = %s, want %s", s.Algorithm(), AlgEd448)
	}

	msg := []byte("signed attributes")
	sig, err := s.Sign(rand.Reader, msg, crypto.Hash(0))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !ed448.Verify(s.Public().(ed448.PublicKey), msg, sig, "") {
		t.Error("Ed448 signature does not verify")
	}
}

func TestU_ParsePrivateKey_Encrypted(t *testing.T) {
	key := generateRSAKey(t)
	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), []byte("secret"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(block)

	t.Run("[Unit] missing passphrase", func(t *testing.T) {
		_, err := ParsePrivateKey(data, nil)
		if !errors.Is(err, ErrPassphraseRequired) {
			t.Errorf("error = %v, want ErrPassphraseRequired", err)
		}
	})

	t.Run("[Unit] correct passphrase", func(t *testing.T) {
		s, err := ParsePrivateKey(data, []byte("secret"))
		if err != nil {
			t.Fatalf("ParsePrivateKey() error = %v", err)
		}
		if !s.Public().(*rsa.PublicKey).Equal(&key.PublicKey) {
			t.Error("decrypted key does not match")
		}
	})
}

func TestU_ParsePrivateKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"[Unit] not PEM", []byte("hello")},
		{"[Unit] unknown type", pemBytes("CERTIFICATE", []byte{0x30, 0x00})},
		{"[Unit] garbage PKCS#8", pemBytes("PRIVATE KEY", []byte{0x30, 0x03, 0x02, 0x01, 0x00})},
		{"[Unit] PKCS#8 encrypted", pemBytes("ENCRYPTED PRIVATE KEY", []byte{0x30, 0x00})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePrivateKey(tt.data, nil); err == nil {
				t.Error("ParsePrivateKey() should fail")
			}
		})
	}
}

func TestU_LoadPrivateKey_File(t *testing.T) {
	key := generateRSAKey(t)
	path := filepath.Join(t.TempDir(), "signer.key")
	if err := os.WriteFile(path, pemBytes("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadPrivateKey(path, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	if s.KeyPath() != path {
		t.Errorf("KeyPath() = %q, want %q", s.KeyPath(), path)
	}

	if _, err := LoadPrivateKey(filepath.Join(t.TempDir(), "missing.key"), nil); err == nil {
		t.Error("LoadPrivateKey() should fail for a missing file")
	}
}

// =============================================================================
// SoftwareSigner.Sign
// =============================================================================

func TestU_SoftwareSigner_RSALegacyDigest(t *testing.T) {
	key := generateRSAKey(t)
	s, err := NewSoftwareSigner(key)
	if err != nil {
		t.Fatal(err)
	}

	digest := md5.Sum([]byte("attributes"))
	sig, err := s.Sign(rand.Reader, digest[:], crypto.MD5)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.MD5, digest[:], sig); err != nil {
		t.Errorf("MD5 signature does not verify: %v", err)
	}
}

func TestU_SoftwareSigner_RSAPSS(t *testing.T) {
	key := generateRSAKey(t)
	s, err := NewSoftwareSigner(key)
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256([]byte("receipt payload"))
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
	sig, err := s.Sign(rand.Reader, digest[:], opts)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, opts); err != nil {
		t.Errorf("PSS signature does not verify: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err == nil {
		t.Error("PSS options should not produce a PKCS#1 v1.5 signature")
	}
}

func TestU_SoftwareSigner_ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSoftwareSigner(key)
	if err != nil {
		t.Fatal(err)
	}
	if s.Algorithm() != AlgECDSAP384 {
		t.Errorf("Algorithm() = %s", s.Algorithm())
	}

	digest := sha256.Sum256([]byte("attributes"))
	sig, err := s.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig) {
		t.Error("ECDSA signature does not verify")
	}
}

func TestU_NewSoftwareSigner_Unsupported(t *testing.T) {
	if _, err := NewSoftwareSigner("not a key"); err == nil {
		t.Error("NewSoftwareSigner() should reject unknown key types")
	}
}

// =============================================================================
// ResolvePassphrase
// =============================================================================

func TestU_ResolvePassphrase_Empty(t *testing.T) {
	if got := ResolvePassphrase(""); got != nil {
		t.Errorf("ResolvePassphrase(\"\") = %q, want nil", got)
	}
}

func TestU_ResolvePassphrase_Literal(t *testing.T) {
	if got := string(ResolvePassphrase("hunter2")); got != "hunter2" {
		t.Errorf("ResolvePassphrase() = %q", got)
	}
}

func TestU_ResolvePassphrase_EnvVar(t *testing.T) {
	t.Setenv("QSCEP_TEST_PASS", "from-env")
	if got := string(ResolvePassphrase("env:QSCEP_TEST_PASS")); got != "from-env" {
		t.Errorf("ResolvePassphrase() = %q, want from-env", got)
	}
}

func TestU_ResolvePassphrase_EnvPrefixOnly(t *testing.T) {
	if got := string(ResolvePassphrase("env:")); got != "env:" {
		t.Errorf("ResolvePassphrase(\"env:\") = %q, want literal", got)
	}
}

// =============================================================================
// KeySource
// =============================================================================

func TestU_OpenSigner_Sources(t *testing.T) {
	key := generateRSAKey(t)
	data := pemBytes("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	path := filepath.Join(t.TempDir(), "k.pem")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	for _, src := range []KeySource{{Path: path}, {PEM: data}} {
		s, err := OpenSigner(src)
		if err != nil {
			t.Fatalf("OpenSigner(%s) error = %v", src.Describe(), err)
		}
		if !s.Public().(*rsa.PublicKey).Equal(&key.PublicKey) {
			t.Errorf("OpenSigner(%s) returned the wrong key", src.Describe())
		}
	}

	if _, err := OpenSigner(KeySource{}); err == nil {
		t.Error("OpenSigner() should fail with no source")
	}
}

func TestU_KeySource_Describe(t *testing.T) {
	if got := (KeySource{HSMConfig: "hsm.yaml", KeyLabel: "scep"}).Describe(); got != "pkcs11:scep" {
		t.Errorf("Describe() = %q", got)
	}
	if got := (KeySource{PEM: []byte("x"), Passphrase: "secret"}).Describe(); got != "inline" {
		t.Errorf("Describe() = %q", got)
	}
}

// =============================================================================
// HSM config
// =============================================================================

func TestU_ParseHSMConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"[Unit] valid", "type: pkcs11\npkcs11:\n  lib: /usr/lib/softhsm.so\n  token: scep\n  pin_env: PIN\n", false},
		{"[Unit] slot only", "type: pkcs11\npkcs11:\n  lib: /x.so\n  slot: 0\n  pin_env: PIN\n", false},
		{"[Unit] wrong type", "type: kms\npkcs11:\n  lib: /x.so\n  token: t\n  pin_env: PIN\n", true},
		{"[Unit] missing lib", "type: pkcs11\npkcs11:\n  token: t\n  pin_env: PIN\n", true},
		{"[Unit] missing token", "type: pkcs11\npkcs11:\n  lib: /x.so\n  pin_env: PIN\n", true},
		{"[Unit] missing pin_env", "type: pkcs11\npkcs11:\n  lib: /x.so\n  token: t\n", true},
		{"[Unit] bad yaml", "type: [", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHSMConfig([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseHSMConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_HSMConfig_SignerConfig(t *testing.T) {
	cfg, err := ParseHSMConfig([]byte("type: pkcs11\npkcs11:\n  lib: /x.so\n  token: scep\n  pin_env: QSCEP_TEST_PIN\n"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cfg.SignerConfig("k", ""); err == nil {
		t.Error("SignerConfig() should fail when the PIN variable is unset")
	}

	t.Setenv("QSCEP_TEST_PIN", "1234")
	sc, err := cfg.SignerConfig("k", "")
	if err != nil {
		t.Fatalf("SignerConfig() error = %v", err)
	}
	if sc.PIN != "1234" || sc.TokenLabel != "scep" || sc.KeyLabel != "k" {
		t.Errorf("SignerConfig() = %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (PKCS11Config{ModulePath: "/x.so"}).Validate(); err == nil {
		t.Error("Validate() should require a key label or ID")
	}
}

// =============================================================================
// PKCS#11 helpers
// =============================================================================

func TestU_AddDigestInfoPrefix(t *testing.T) {
	digest := sha256.Sum256([]byte("x"))
	out, err := addDigestInfoPrefix(digest[:], crypto.SHA256)
	if err != nil {
		t.Fatal(err)
	}

	var info struct {
		Algorithm struct {
			OID    asn1.ObjectIdentifier
			Params asn1.RawValue `asn1:"optional"`
		}
		Digest []byte
	}
	if rest, err := asn1.Unmarshal(out, &info); err != nil || len(rest) != 0 {
		t.Fatalf("DigestInfo does not parse: %v", err)
	}
	if !info.Algorithm.OID.Equal(asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}) {
		t.Errorf("OID = %v", info.Algorithm.OID)
	}

	for _, h := range []crypto.Hash{crypto.MD5, crypto.SHA1, crypto.SHA224, crypto.SHA384, crypto.SHA512} {
		d := make([]byte, h.Size())
		out, err := addDigestInfoPrefix(d, h)
		if err != nil {
			t.Fatalf("%v: %v", h, err)
		}
		if _, err := asn1.Unmarshal(out, &info); err != nil {
			t.Errorf("%v: DigestInfo does not parse: %v", h, err)
		}
	}

	if _, err := addDigestInfoPrefix(digest[:], crypto.SHA3_256); err == nil {
		t.Error("addDigestInfoPrefix() should reject hashes without a prefix")
	}
}

func TestU_ConvertECDSASignature(t *testing.T) {
	raw := append(make([]byte, 31), 1)
	raw = append(raw, append(make([]byte, 31), 2)...)
	der, err := convertECDSASignature(raw)
	if err != nil {
		t.Fatal(err)
	}
	var sig struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.R.Int64() != 1 || sig.S.Int64() != 2 {
		t.Errorf("R,S = %v,%v", sig.R, sig.S)
	}
	if _, err := convertECDSASignature([]byte{1, 2, 3}); err == nil {
		t.Error("odd-length signature should fail")
	}
}

func TestU_BytesToUint(t *testing.T) {
	if got := bytesToUint([]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}); got != 3 {
		t.Errorf("bytesToUint() = %d, want 3", got)
	}
}

package cms

import (
	"bytes"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"
	"time"
)

// =============================================================================
// Signed Attributes
// =============================================================================

func TestU_MarshalSignedAttrs_SortedSet(t *testing.T) {
	ct, _ := NewContentTypeAttr(OIDData)
	md, _ := NewMessageDigestAttr(bytes.Repeat([]byte{0xab}, 16))
	st, _ := NewSigningTimeAttr(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	forward, err := MarshalSignedAttrs([]Attribute{ct, md, st})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs() error = %v", err)
	}
	reversed, err := MarshalSignedAttrs([]Attribute{st, md, ct})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs() error = %v", err)
	}

	if forward[0] != 0x31 {
		t.Errorf("first byte = %#x, want 0x31 (SET)", forward[0])
	}
	if !bytes.Equal(forward, reversed) {
		t.Error("MarshalSignedAttrs() output should not depend on input order")
	}

	var elems []asn1.RawValue
	rest := forward[2:]
	for len(rest) > 0 {
		var rv asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &rv)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		elems = append(elems, rv)
	}
	if len(elems) != 3 {
		t.Fatalf("got %d elements, want 3", len(elems))
	}
	for i := 1; i < len(elems); i++ {
		if bytes.Compare(elems[i-1].FullBytes, elems[i].FullBytes) > 0 {
			t.Errorf("element %d is not in DER order", i)
		}
	}
}

func TestU_ImplicitSignedAttrs_RoundTrip(t *testing.T) {
	ct, _ := NewContentTypeAttr(OIDData)
	set, err := MarshalSignedAttrs([]Attribute{ct})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs() error = %v", err)
	}

	tagged := ImplicitSignedAttrs(set)
	if tagged.FullBytes[0] != 0xa0 {
		t.Errorf("tagged first byte = %#x, want 0xa0", tagged.FullBytes[0])
	}
	if set[0] != 0x31 {
		t.Error("ImplicitSignedAttrs() must not modify its input")
	}
	if !bytes.Equal(SignedAttrsForVerify(tagged), set) {
		t.Error("SignedAttrsForVerify() should restore the SET encoding")
	}
}

func TestU_ParseAttributes(t *testing.T) {
	ct, _ := NewContentTypeAttr(OIDData)
	ps, err := NewPrintableStringAttr(asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 2}, "19")
	if err != nil {
		t.Fatalf("NewPrintableStringAttr() error = %v", err)
	}
	set, _ := MarshalSignedAttrs([]Attribute{ct, ps})

	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(ImplicitSignedAttrs(set).FullBytes, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	attrs, err := ParseAttributes(raw)
	if err != nil {
		t.Fatalf("ParseAttributes() error = %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("len(attrs) = %d, want 2", len(attrs))
	}

	got, ok := FindAttribute(attrs, ps.Type)
	if !ok {
		t.Fatal("FindAttribute() did not find messageType")
	}
	v, err := got.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v.Tag != asn1.TagPrintableString {
		t.Errorf("value tag = %d, want PrintableString", v.Tag)
	}
	if string(v.Bytes) != "19" {
		t.Errorf("value = %q, want %q", v.Bytes, "19")
	}

	if _, ok := FindAttribute(attrs, OIDSigningTime); ok {
		t.Error("FindAttribute() found an attribute that is not present")
	}
}

func TestU_ParseAttributes_Malformed(t *testing.T) {
	raw := asn1.RawValue{Bytes: []byte{0x30, 0x05, 0x06}}
	if _, err := ParseAttributes(raw); err == nil {
		t.Error("ParseAttributes() should fail on truncated input")
	}
}

func TestU_Attribute_Value_MultipleValues(t *testing.T) {
	attr := Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: []byte{0x05, 0x00}}, {FullBytes: []byte{0x05, 0x00}}},
	}
	if _, err := attr.Value(); err == nil {
		t.Error("Value() should fail with two values")
	}
}

func TestU_NewSigningTimeAttr_UTC(t *testing.T) {
	local := time.Date(2030, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	attr, err := NewSigningTimeAttr(local)
	if err != nil {
		t.Fatalf("NewSigningTimeAttr() error = %v", err)
	}
	v, err := attr.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(v.FullBytes, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagUTCTime {
		t.Errorf("tag = %d, want UTCTime", raw.Tag)
	}
	var got time.Time
	if _, err := asn1.Unmarshal(v.FullBytes, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.Equal(local) {
		t.Errorf("signingTime = %v, want %v", got, local)
	}
}

// =============================================================================
// Identifiers and Content
// =============================================================================

func TestU_IssuerAndSerial_Matches(t *testing.T) {
	kp := generateECDSAKeyPair(t, elliptic.P256())
	cert := generateTestCertificate(t, kp, "signer")
	other := generateTestCertificate(t, kp, "other")

	ias := NewIssuerAndSerial(cert)
	if !ias.Matches(cert) {
		t.Error("Matches() = false for its own certificate")
	}
	if ias.Matches(other) {
		t.Error("Matches() = true for a different certificate")
	}

	noSerial := IssuerAndSerialNumber{Issuer: ias.Issuer}
	if noSerial.Matches(cert) {
		t.Error("Matches() = true with a nil serial")
	}

	shifted := IssuerAndSerialNumber{Issuer: ias.Issuer, SerialNumber: new(big.Int).Add(cert.SerialNumber, big.NewInt(1))}
	if shifted.Matches(cert) {
		t.Error("Matches() = true with a different serial")
	}
}

func TestU_EncapsulatedContent_RoundTrip(t *testing.T) {
	payload := []byte("enveloped payload")
	eci, err := NewEncapsulatedContent(OIDData, payload)
	if err != nil {
		t.Fatalf("NewEncapsulatedContent() error = %v", err)
	}
	der, err := asn1.Marshal(eci)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed EncapsulatedContentInfo
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	got, err := parsed.Content()
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Content() = %q, want %q", got, payload)
	}
}

func TestU_EncapsulatedContent_Absent(t *testing.T) {
	var eci EncapsulatedContentInfo
	got, err := eci.Content()
	if err != nil || got != nil {
		t.Errorf("Content() = %v, %v; want nil, nil", got, err)
	}
}

func TestU_EncapsulatedContent_NotOctetString(t *testing.T) {
	eci := EncapsulatedContentInfo{
		EContentType: OIDData,
		EContent:     asn1.RawValue{Bytes: []byte{0x02, 0x01, 0x05}},
	}
	_, err := eci.Content()
	if !errors.Is(err, ErrInvalidContent) {
		t.Errorf("Content() error = %v, want ErrInvalidContent", err)
	}
}

func TestU_CertificateSet(t *testing.T) {
	kp := generateRSAKeyPair(t, 2048)
	cert := generateTestCertificate(t, kp, "device1")
	der := buildSignedData(t, kp, cert, mustDigest(t, DigestSHA256), []byte("content"))

	sd, err := ParseSignedData(der)
	if err != nil {
		t.Fatalf("ParseSignedData() error = %v", err)
	}
	if sd.Certificates.Class != asn1.ClassContextSpecific || sd.Certificates.Tag != 0 {
		t.Errorf("certificates tag = class %d tag %d, want [0]", sd.Certificates.Class, sd.Certificates.Tag)
	}
	certs, err := sd.ParseCertificates()
	if err != nil {
		t.Fatalf("ParseCertificates() error = %v", err)
	}
	if len(certs) != 1 || !certs[0].Equal(cert) {
		t.Errorf("ParseCertificates() returned %d certificates, want the signer", len(certs))
	}
}

func TestU_ParseCertificates_Empty(t *testing.T) {
	sd := &SignedData{}
	if _, err := sd.ParseCertificates(); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("ParseCertificates() error = %v, want ErrNoCertificate", err)
	}
}

func TestU_NewCertificateSet_Multiple(t *testing.T) {
	kp := generateEd25519KeyPair(t)
	a := generateTestCertificate(t, kp, "a")
	b := generateTestCertificate(t, kp, "b")

	set, err := NewCertificateSet(a, b)
	if err != nil {
		t.Fatalf("NewCertificateSet() error = %v", err)
	}
	if set.FullBytes[0] != 0xa0 {
		t.Errorf("first byte = %#x, want 0xa0", set.FullBytes[0])
	}

	var parsed asn1.RawValue
	if _, err := asn1.Unmarshal(set.FullBytes, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	certs, err := x509.ParseCertificates(parsed.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificates() error = %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("got %d certificates, want 2", len(certs))
	}
}

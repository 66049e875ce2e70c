package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ContentInfo represents the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents CMS SignedData (RFC 5652 Section 5).
//
// Certificates carries the [0] IMPLICIT CertificateSet verbatim; build it
// with NewCertificateSet.
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo  `asn1:"set"`
}

// EncapsulatedContentInfo represents the content being signed (RFC 5652 Section 5.2).
// EContent is [0] EXPLICIT OCTET STRING; NewEncapsulatedContent builds the tagging.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// SignerInfo contains the signature and related info (RFC 5652 Section 5.3).
// SignedAttrs holds the [0] IMPLICIT SET OF Attribute exactly as signed.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// NewIssuerAndSerial returns the issuer+serial identifier of cert, reusing
// the certificate's raw issuer encoding.
func NewIssuerAndSerial(cert *x509.Certificate) IssuerAndSerialNumber {
	return IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	}
}

// Matches reports whether ias identifies cert.
func (ias IssuerAndSerialNumber) Matches(cert *x509.Certificate) bool {
	if ias.SerialNumber == nil || cert.SerialNumber == nil {
		return false
	}
	return ias.SerialNumber.Cmp(cert.SerialNumber) == 0 &&
		bytes.Equal(ias.Issuer.FullBytes, cert.RawIssuer)
}

// Attribute represents a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// NewAttribute creates a new attribute with a single value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// NewPrintableStringAttr creates an attribute whose value is a PrintableString.
func NewPrintableStringAttr(oid asn1.ObjectIdentifier, s string) (Attribute, error) {
	return NewAttribute(oid, asn1.RawValue{
		Class: asn1.ClassUniversal,
		Tag:   asn1.TagPrintableString,
		Bytes: []byte(s),
	})
}

// NewContentTypeAttr creates a content-type attribute.
func NewContentTypeAttr(contentType asn1.ObjectIdentifier) (Attribute, error) {
	return NewAttribute(OIDContentType, contentType)
}

// NewMessageDigestAttr creates a message-digest attribute.
func NewMessageDigestAttr(digest []byte) (Attribute, error) {
	return NewAttribute(OIDMessageDigest, digest)
}

// NewSigningTimeAttr creates a signing-time attribute.
func NewSigningTimeAttr(t time.Time) (Attribute, error) {
	return NewAttribute(OIDSigningTime, t.UTC())
}

// Value returns the single value of the attribute.
func (a Attribute) Value() (asn1.RawValue, error) {
	if len(a.Values) != 1 {
		return asn1.RawValue{}, fmt.Errorf("attribute %v has %d values, want 1", a.Type, len(a.Values))
	}
	return a.Values[0], nil
}

// MarshalSignedAttrs returns the DER SET OF encoding of attrs. This is
// the exact input to the signature (RFC 5652 Section 5.4). The elements
// are sorted by their encodings as DER requires, so the caller's order
// does not affect the output.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	encoded := make([][]byte, 0, len(attrs))
	for _, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute %v: %w", attr.Type, err)
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
		for _, der := range encoded {
			b.AddBytes(der)
		}
	})
	return b.Bytes()
}

// ImplicitSignedAttrs re-tags a SET OF attributes as the [0] IMPLICIT
// field of a SignerInfo.
func ImplicitSignedAttrs(set []byte) asn1.RawValue {
	tagged := make([]byte, len(set))
	copy(tagged, set)
	tagged[0] = 0xa0
	return asn1.RawValue{FullBytes: tagged}
}

// SignedAttrsForVerify reverses ImplicitSignedAttrs, returning the SET OF
// encoding the signature was computed over.
func SignedAttrsForVerify(raw asn1.RawValue) []byte {
	set := make([]byte, len(raw.FullBytes))
	copy(set, raw.FullBytes)
	if len(set) > 0 {
		set[0] = 0x31
	}
	return set
}

// ParseAttributes decodes the attributes of a SignerInfo's [0] field.
func ParseAttributes(raw asn1.RawValue) ([]Attribute, error) {
	var attrs []Attribute
	rest := raw.Bytes
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse attribute: %w", err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// FindAttribute returns the first attribute of the given type.
func FindAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (Attribute, bool) {
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			return a, true
		}
	}
	return Attribute{}, false
}

// NewCertificateSet builds the [0] IMPLICIT CertificateSet field.
func NewCertificateSet(certs ...*x509.Certificate) (asn1.RawValue, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
		for _, c := range certs {
			b.AddBytes(c.Raw)
		}
	})
	der, err := b.Bytes()
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// NewEncapsulatedContent wraps content as [0] EXPLICIT OCTET STRING.
func NewEncapsulatedContent(contentType asn1.ObjectIdentifier, content []byte) (EncapsulatedContentInfo, error) {
	octets, err := asn1.Marshal(content)
	if err != nil {
		return EncapsulatedContentInfo{}, err
	}
	return EncapsulatedContentInfo{
		EContentType: contentType,
		EContent: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      octets,
		},
	}, nil
}

// Content returns the encapsulated octets, or nil when the content is absent.
func (e EncapsulatedContentInfo) Content() ([]byte, error) {
	if len(e.EContent.Bytes) == 0 {
		return nil, nil
	}
	var content []byte
	if _, err := asn1.Unmarshal(e.EContent.Bytes, &content); err != nil {
		return nil, fmt.Errorf("%w: eContent is not an OCTET STRING: %v", ErrInvalidContent, err)
	}
	return content, nil
}

// WrapContentInfo marshals inner and wraps it in a ContentInfo of the given type.
func WrapContentInfo(contentType asn1.ObjectIdentifier, inner interface{}) ([]byte, error) {
	innerDER, err := asn1.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(ContentInfo{
		ContentType: contentType,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      innerDER,
		},
	})
}

// ParseCertificates parses the certificates carried in the SignedData.
func (sd *SignedData) ParseCertificates() ([]*x509.Certificate, error) {
	if len(sd.Certificates.Bytes) == 0 {
		return nil, ErrNoCertificate
	}
	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificates: %w", err)
	}
	return certs, nil
}

package cms

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"
)

// VerifyResult contains the result of verifying a SignedData.
type VerifyResult struct {
	// Signer is the certificate that matched the SignerInfo.
	Signer *x509.Certificate

	// SignerInfo is the verified signer.
	SignerInfo *SignerInfo

	// Attributes are the parsed signed attributes, in encoded order.
	Attributes []Attribute

	// Content is the encapsulated content.
	Content []byte

	// Digest is the SignerInfo's digest algorithm.
	Digest DigestAlgorithm
}

// Verify checks the first SignerInfo of sd against the certificates
// embedded in sd: the message digest must match the content and the
// signature must verify over the signed attributes. No chain building is
// done.
func Verify(sd *SignedData, reg *Registry) (*VerifyResult, error) {
	if reg == nil {
		return nil, NewCMSError(OpVerify, errors.New("algorithm registry is required"))
	}
	if len(sd.SignerInfos) == 0 {
		return nil, NewCMSError(OpVerify, ErrNoSigner)
	}
	si := &sd.SignerInfos[0]

	certs, err := sd.ParseCertificates()
	if err != nil {
		return nil, NewCMSError(OpVerify, err)
	}
	var signer *x509.Certificate
	for _, c := range certs {
		if si.SID.Matches(c) {
			signer = c
			break
		}
	}
	if signer == nil {
		return nil, NewCMSError(OpVerify, fmt.Errorf("%w: no certificate matches the signer identifier", ErrNoCertificate))
	}

	digest, err := reg.DigestByOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return nil, NewCMSError(OpVerify, err)
	}

	content, err := sd.EncapContentInfo.Content()
	if err != nil {
		return nil, NewCMSError(OpVerify, err)
	}

	if len(si.SignedAttrs.FullBytes) == 0 {
		return nil, NewCMSError(OpVerify, fmt.Errorf("%w: signer has no signed attributes", ErrMissingAttribute))
	}
	attrs, err := ParseAttributes(si.SignedAttrs)
	if err != nil {
		return nil, NewCMSError(OpVerify, err)
	}

	if err := checkMessageDigest(attrs, digest.Sum(content)); err != nil {
		return nil, NewCMSError(OpVerify, err)
	}
	if err := checkContentType(attrs, sd.EncapContentInfo.EContentType); err != nil {
		return nil, NewCMSError(OpVerify, err)
	}

	pub, err := SignerPublicKey(signer)
	if err != nil {
		return nil, NewCMSError(OpVerify, err)
	}
	if err := VerifyAttributes(pub, digest, SignedAttrsForVerify(si.SignedAttrs), si.Signature); err != nil {
		return nil, NewCMSError(OpVerify, err)
	}

	return &VerifyResult{
		Signer:     signer,
		SignerInfo: si,
		Attributes: attrs,
		Content:    content,
		Digest:     digest,
	}, nil
}

func checkMessageDigest(attrs []Attribute, want []byte) error {
	attr, ok := FindAttribute(attrs, OIDMessageDigest)
	if !ok {
		return fmt.Errorf("%w: messageDigest", ErrMissingAttribute)
	}
	v, err := attr.Value()
	if err != nil {
		return err
	}
	var got []byte
	if _, err := asn1.Unmarshal(v.FullBytes, &got); err != nil {
		return fmt.Errorf("%w: messageDigest is not an OCTET STRING", ErrInvalidContent)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: message digest mismatch", ErrInvalidSignature)
	}
	return nil
}

func checkContentType(attrs []Attribute, want asn1.ObjectIdentifier) error {
	attr, ok := FindAttribute(attrs, OIDContentType)
	if !ok {
		return fmt.Errorf("%w: contentType", ErrMissingAttribute)
	}
	v, err := attr.Value()
	if err != nil {
		return err
	}
	var got asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(v.FullBytes, &got); err != nil {
		return fmt.Errorf("%w: contentType is not an OID", ErrInvalidContent)
	}
	if !got.Equal(want) {
		return fmt.Errorf("%w: contentType attribute %v does not match eContentType %v", ErrInvalidContent, got, want)
	}
	return nil
}

// SignerPublicKey returns the public key of cert. crypto/x509 does not
// decode Ed448 keys, so those are extracted from the raw SPKI.
func SignerPublicKey(cert *x509.Certificate) (crypto.PublicKey, error) {
	if cert.PublicKey != nil {
		return cert.PublicKey, nil
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse subject public key info: %w", err)
	}
	if spki.Algorithm.Algorithm.Equal(OIDEd448) && len(spki.PublicKey.Bytes) == ed448.PublicKeySize {
		return ed448.PublicKey(spki.PublicKey.Bytes), nil
	}
	return nil, fmt.Errorf("%w: public key algorithm %v", ErrUnsupportedAlgorithm, spki.Algorithm.Algorithm)
}

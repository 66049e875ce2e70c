package cms

import (
	"encoding/asn1"
	"fmt"
)

// ParseContentInfo parses a CMS ContentInfo structure.
// This is the top-level wrapper for all CMS message types.
func ParseContentInfo(data []byte) (*ContentInfo, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(data, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse ContentInfo: %v", ErrInvalidContent, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after ContentInfo", ErrInvalidContent)
	}
	return &ci, nil
}

// ParseSignedData parses a CMS SignedData structure from raw DER bytes.
// The input should be a complete ContentInfo containing SignedData.
func ParseSignedData(data []byte) (*SignedData, error) {
	ci, err := ParseContentInfo(data)
	if err != nil {
		return nil, err
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: not a SignedData structure, got OID %v", ErrInvalidContent, ci.ContentType)
	}

	var sd SignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: failed to parse SignedData: %v", ErrInvalidContent, err)
	}
	return &sd, nil
}

// ParseEnvelopedData parses a CMS EnvelopedData structure from raw DER bytes.
// The input should be a complete ContentInfo containing EnvelopedData.
func ParseEnvelopedData(data []byte) (*EnvelopedData, error) {
	ci, err := ParseContentInfo(data)
	if err != nil {
		return nil, err
	}
	if !ci.ContentType.Equal(OIDEnvelopedData) {
		return nil, fmt.Errorf("%w: not an EnvelopedData structure, got OID %v", ErrInvalidContent, ci.ContentType)
	}

	var env EnvelopedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to parse EnvelopedData: %v", ErrInvalidContent, err)
	}
	return &env, nil
}

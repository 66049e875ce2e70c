package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
)

// EnvelopedData represents CMS EnvelopedData (RFC 5652 Section 6).
//
//	EnvelopedData ::= SEQUENCE {
//	  version CMSVersion,
//	  originatorInfo [0] IMPLICIT OriginatorInfo OPTIONAL,
//	  recipientInfos RecipientInfos,
//	  encryptedContentInfo EncryptedContentInfo,
//	  unprotectedAttrs [1] IMPLICIT UnprotectedAttributes OPTIONAL }
type EnvelopedData struct {
	Version              int
	OriginatorInfo       asn1.RawValue   `asn1:"optional,tag:0"`
	RecipientInfos       []asn1.RawValue `asn1:"set"`
	EncryptedContentInfo EncryptedContentInfo
	UnprotectedAttrs     asn1.RawValue `asn1:"optional,tag:1"`
}

// EncryptedContentInfo contains the encrypted content (RFC 5652 Section 6.1).
//
//	EncryptedContentInfo ::= SEQUENCE {
//	  contentType ContentType,
//	  contentEncryptionAlgorithm ContentEncryptionAlgorithmIdentifier,
//	  encryptedContent [0] IMPLICIT EncryptedContent OPTIONAL }
type EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           []byte `asn1:"optional,tag:0"`
}

// KeyTransRecipientInfo for RSA key transport (RFC 5652 Section 6.2.1).
// Only the issuerAndSerialNumber form of RecipientIdentifier is produced,
// which fixes the version at 0.
//
//	KeyTransRecipientInfo ::= SEQUENCE {
//	  version CMSVersion,  -- always set to 0 or 2
//	  rid RecipientIdentifier,
//	  keyEncryptionAlgorithm KeyEncryptionAlgorithmIdentifier,
//	  encryptedKey EncryptedKey }
type KeyTransRecipientInfo struct {
	Version                int
	RID                    IssuerAndSerialNumber
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

// MarshalKeyTransRecipientInfo marshals KeyTransRecipientInfo.
// For the RecipientInfo CHOICE, ktri is the untagged default.
func MarshalKeyTransRecipientInfo(ktri *KeyTransRecipientInfo) ([]byte, error) {
	return asn1.Marshal(*ktri)
}

// ParseKeyTransRecipientInfo parses a RecipientInfo, accepting only the
// key transport alternative.
func ParseKeyTransRecipientInfo(raw asn1.RawValue) (*KeyTransRecipientInfo, error) {
	if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagSequence {
		return nil, asn1.StructuralError{Msg: "unsupported RecipientInfo type"}
	}
	var ktri KeyTransRecipientInfo
	if _, err := asn1.Unmarshal(raw.FullBytes, &ktri); err != nil {
		return nil, err
	}
	return &ktri, nil
}

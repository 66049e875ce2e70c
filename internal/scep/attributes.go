// Package scep builds SCEP PKCSReq pkiMessages: a PKCS#7 SignedData whose
// content is an EnvelopedData carrying the encrypted PKCS#10 request,
// signed with the SCEP authenticated attributes.
package scep

import (
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/remiblancher/qscep/internal/cms"
)

// SCEP authenticated attribute OIDs (id-attributes, 2.16.840.1.113733.1.9).
var (
	OIDMessageType    = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 2}
	OIDPKIStatus      = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 3}
	OIDSenderNonce    = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 5}
	OIDRecipientNonce = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 6}
	OIDTransactionID  = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 7}
)

// MessageType is the decimal messageType value.
type MessageType string

// MessageTypePKCSReq is the only message type this package builds.
const MessageTypePKCSReq MessageType = "19"

// PKIStatus is the decimal pkiStatus value.
type PKIStatus string

// PKIStatusPending is "3". Requests carry it for compatibility with the
// servers this tool was first written against.
const PKIStatusPending PKIStatus = "3"

const (
	TransactionIDLength = 16
	NonceLength         = 16
)

const transactionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Attributes holds the SCEP authenticated attributes of one request.
type Attributes struct {
	MessageType    MessageType
	PKIStatus      PKIStatus // empty omits the attribute
	TransactionID  string
	SenderNonce    []byte
	RecipientNonce []byte
}

// BuildAttributes generates a fresh attribute set from src: a 16-character
// alphanumeric transaction ID and two 16-byte nonces. A short read from src
// fails the whole call.
func BuildAttributes(src io.Reader) (*Attributes, error) {
	txID, err := randomAlphanumeric(src, TransactionIDLength)
	if err != nil {
		return nil, cryptoError("generate transactionID", err)
	}

	senderNonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(src, senderNonce); err != nil {
		return nil, cryptoError("generate senderNonce", err)
	}

	recipientNonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(src, recipientNonce); err != nil {
		return nil, cryptoError("generate recipientNonce", err)
	}

	return &Attributes{
		MessageType:    MessageTypePKCSReq,
		PKIStatus:      PKIStatusPending,
		TransactionID:  txID,
		SenderNonce:    senderNonce,
		RecipientNonce: recipientNonce,
	}, nil
}

// List returns the attributes in insertion order: messageType, pkiStatus,
// transactionID, senderNonce, recipientNonce.
func (a *Attributes) List() ([]cms.Attribute, error) {
	var attrs []cms.Attribute

	add := func(attr cms.Attribute, err error) error {
		if err != nil {
			return err
		}
		attrs = append(attrs, attr)
		return nil
	}

	if err := add(cms.NewPrintableStringAttr(OIDMessageType, string(a.MessageType))); err != nil {
		return nil, fmt.Errorf("messageType: %w", err)
	}
	if a.PKIStatus != "" {
		if err := add(cms.NewPrintableStringAttr(OIDPKIStatus, string(a.PKIStatus))); err != nil {
			return nil, fmt.Errorf("pkiStatus: %w", err)
		}
	}
	if err := add(cms.NewPrintableStringAttr(OIDTransactionID, a.TransactionID)); err != nil {
		return nil, fmt.Errorf("transactionID: %w", err)
	}
	if err := add(cms.NewAttribute(OIDSenderNonce, a.SenderNonce)); err != nil {
		return nil, fmt.Errorf("senderNonce: %w", err)
	}
	if err := add(cms.NewAttribute(OIDRecipientNonce, a.RecipientNonce)); err != nil {
		return nil, fmt.Errorf("recipientNonce: %w", err)
	}
	return attrs, nil
}

// randomAlphanumeric draws n symbols uniformly from transactionIDAlphabet.
// Bytes at or above 248 (4*62) are rejected to avoid modulo bias.
func randomAlphanumeric(src io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(transactionIDAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, transactionIDAlphabet[int(b)%len(transactionIDAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

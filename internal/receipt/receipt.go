// Package receipt records what went into a built SCEP request as a signed
// CBOR document, so the requester can later prove which transaction and
// nonces it sent.
package receipt

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/qscep/internal/scep"
)

// Version is the receipt format version.
const Version = 1

// ContentType is carried in the COSE protected header.
const ContentType = "application/vnd.qscep.receipt+cbor"

var (
	// ErrInvalidReceipt is returned when the data is not a well-formed receipt.
	ErrInvalidReceipt = errors.New("invalid receipt")

	// ErrSignature is returned when the COSE signature does not verify.
	ErrSignature = errors.New("receipt signature verification failed")
)

// Receipt describes one built PKCSReq.
type Receipt struct {
	Version        int      `cbor:"1,keyasint"`
	TransactionID  string   `cbor:"2,keyasint"`
	MessageType    string   `cbor:"3,keyasint"`
	SenderNonce    []byte   `cbor:"4,keyasint"`
	RecipientNonce []byte   `cbor:"5,keyasint"`
	Digest         string   `cbor:"6,keyasint"`
	Cipher         string   `cbor:"7,keyasint"`
	SignerIssuer   string   `cbor:"8,keyasint"`
	SignerSerial   *big.Int `cbor:"9,keyasint"`
	SignerSubject  string   `cbor:"10,keyasint"`
	CASubject      string   `cbor:"11,keyasint,omitempty"`
	CSRSubject     string   `cbor:"12,keyasint"`
	MessageSHA256  []byte   `cbor:"13,keyasint"`
	CreatedAt      int64    `cbor:"14,keyasint"`
}

// New builds the receipt for msg, produced from req at now.
func New(msg *scep.Message, req *scep.Request, now time.Time) *Receipt {
	sum := sha256.Sum256(msg.DER())
	r := &Receipt{
		Version:        Version,
		TransactionID:  msg.TransactionID,
		MessageType:    string(scep.MessageTypePKCSReq),
		SenderNonce:    append([]byte(nil), msg.SenderNonce...),
		RecipientNonce: append([]byte(nil), msg.RecipientNonce...),
		Digest:         msg.Digest,
		Cipher:         msg.Cipher,
		MessageSHA256:  sum[:],
		CreatedAt:      now.Unix(),
	}
	if cert := req.Identity.Certificate; cert != nil {
		r.SignerIssuer = cert.Issuer.String()
		r.SignerSerial = new(big.Int).Set(cert.SerialNumber)
		r.SignerSubject = cert.Subject.String()
	}
	if len(req.Recipients) > 0 && req.Recipients[0] != nil {
		r.CASubject = req.Recipients[0].Subject.String()
	}
	if req.CSR != nil {
		r.CSRSubject = req.CSR.Subject.String()
	}
	return r
}

// Created returns the creation time.
func (r *Receipt) Created() time.Time {
	return time.Unix(r.CreatedAt, 0).UTC()
}

// Matches reports whether der is the message this receipt was issued for.
func (r *Receipt) Matches(der []byte) bool {
	sum := sha256.Sum256(der)
	return len(r.MessageSHA256) == len(sum) && string(r.MessageSHA256) == string(sum[:])
}

// IssuedBy reports whether cert is the signer named in the receipt.
func (r *Receipt) IssuedBy(cert *x509.Certificate) bool {
	if cert == nil || r.SignerSerial == nil {
		return false
	}
	return cert.SerialNumber.Cmp(r.SignerSerial) == 0 && cert.Issuer.String() == r.SignerIssuer
}

// Marshal returns the canonical CBOR encoding.
func (r *Receipt) Marshal() ([]byte, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return em.Marshal(r)
}

// Unmarshal decodes a CBOR receipt payload.
func Unmarshal(data []byte) (*Receipt, error) {
	var r Receipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if r.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidReceipt, r.Version)
	}
	if r.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction ID", ErrInvalidReceipt)
	}
	return &r, nil
}

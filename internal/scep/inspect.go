package scep

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/qscep/internal/cms"
)

// RecipientInfo identifies one envelope recipient.
type RecipientInfo struct {
	Issuer string
	Serial *big.Int
}

// MessageInfo is the decoded view of a pkiMessage.
type MessageInfo struct {
	MessageType    MessageType
	PKIStatus      PKIStatus
	TransactionID  string
	SenderNonce    []byte
	RecipientNonce []byte
	SigningTime    time.Time

	ContentType        asn1.ObjectIdentifier
	Digest             string
	SignatureAlgorithm asn1.ObjectIdentifier
	Signer             *x509.Certificate

	Cipher     string
	Recipients []RecipientInfo

	// SignatureError is nil when the signature and message digest verify.
	SignatureError error

	envelope []byte
}

// SignatureValid reports whether the signature verified.
func (m *MessageInfo) SignatureValid() bool {
	return m.SignatureError == nil
}

// Inspect decodes a pkiMessage and verifies its signature against the
// embedded signer certificate. A bad signature is reported in the result,
// not as an error; structural problems are input errors.
func Inspect(der []byte, reg *cms.Registry) (*MessageInfo, error) {
	sd, err := cms.ParseSignedData(der)
	if err != nil {
		return nil, inputError("inspect", err)
	}
	if len(sd.SignerInfos) != 1 {
		return nil, inputError("inspect", fmt.Errorf("expected 1 signer, found %d", len(sd.SignerInfos)))
	}
	si := sd.SignerInfos[0]

	info := &MessageInfo{
		ContentType:        sd.EncapContentInfo.EContentType,
		SignatureAlgorithm: si.SignatureAlgorithm.Algorithm,
	}

	if d, err := reg.DigestByOID(si.DigestAlgorithm.Algorithm); err == nil {
		info.Digest = d.Name
	} else {
		info.Digest = si.DigestAlgorithm.Algorithm.String()
	}

	if certs, err := sd.ParseCertificates(); err == nil {
		for _, c := range certs {
			if si.SID.Matches(c) {
				info.Signer = c
				break
			}
		}
	}

	attrs, err := cms.ParseAttributes(si.SignedAttrs)
	if err != nil {
		return nil, inputError("inspect", err)
	}
	if err := info.readAttributes(attrs); err != nil {
		return nil, inputError("inspect", err)
	}

	_, info.SignatureError = cms.Verify(sd, reg)

	content, err := sd.EncapContentInfo.Content()
	if err != nil {
		return nil, inputError("inspect", err)
	}
	info.envelope = content
	if err := info.readEnvelope(content, reg); err != nil {
		return nil, inputError("inspect envelope", err)
	}
	return info, nil
}

func (m *MessageInfo) readAttributes(attrs []cms.Attribute) error {
	for _, attr := range attrs {
		v, err := attr.Value()
		if err != nil {
			return err
		}
		switch {
		case attr.Type.Equal(OIDMessageType):
			var s string
			if _, err := asn1.Unmarshal(v.FullBytes, &s); err != nil {
				return fmt.Errorf("messageType: %w", err)
			}
			m.MessageType = MessageType(s)
		case attr.Type.Equal(OIDPKIStatus):
			var s string
			if _, err := asn1.Unmarshal(v.FullBytes, &s); err != nil {
				return fmt.Errorf("pkiStatus: %w", err)
			}
			m.PKIStatus = PKIStatus(s)
		case attr.Type.Equal(OIDTransactionID):
			if _, err := asn1.Unmarshal(v.FullBytes, &m.TransactionID); err != nil {
				return fmt.Errorf("transactionID: %w", err)
			}
		case attr.Type.Equal(OIDSenderNonce):
			if _, err := asn1.Unmarshal(v.FullBytes, &m.SenderNonce); err != nil {
				return fmt.Errorf("senderNonce: %w", err)
			}
		case attr.Type.Equal(OIDRecipientNonce):
			if _, err := asn1.Unmarshal(v.FullBytes, &m.RecipientNonce); err != nil {
				return fmt.Errorf("recipientNonce: %w", err)
			}
		case attr.Type.Equal(cms.OIDSigningTime):
			if _, err := asn1.Unmarshal(v.FullBytes, &m.SigningTime); err != nil {
				return fmt.Errorf("signingTime: %w", err)
			}
		}
	}
	return nil
}

func (m *MessageInfo) readEnvelope(content []byte, reg *cms.Registry) error {
	env, err := cms.ParseEnvelopedData(content)
	if err != nil {
		return err
	}
	alg := env.EncryptedContentInfo.ContentEncryptionAlgorithm.Algorithm
	if c, err := reg.CipherByOID(alg); err == nil {
		m.Cipher = c.Name
	} else {
		m.Cipher = alg.String()
	}

	for _, raw := range env.RecipientInfos {
		ktri, err := cms.ParseKeyTransRecipientInfo(raw)
		if err != nil {
			return err
		}
		m.Recipients = append(m.Recipients, RecipientInfo{
			Issuer: nameString(ktri.RID.Issuer),
			Serial: ktri.RID.SerialNumber,
		})
	}
	return nil
}

// DecryptCSR opens the envelope with the CA key and parses the request.
func (m *MessageInfo) DecryptCSR(key crypto.PrivateKey, cert *x509.Certificate, reg *cms.Registry) (*x509.CertificateRequest, error) {
	res, err := cms.Decrypt(m.envelope, &cms.DecryptOptions{
		PrivateKey:  key,
		Certificate: cert,
		Registry:    reg,
	})
	if err != nil {
		return nil, classifyCMS("decrypt", err)
	}
	csr, err := x509.ParseCertificateRequest(res.Content)
	if err != nil {
		return nil, integrityError("decrypt", fmt.Errorf("envelope does not hold a PKCS#10 request: %w", err))
	}
	return csr, nil
}

func nameString(raw asn1.RawValue) string {
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(raw.FullBytes, &rdn); err != nil {
		return fmt.Sprintf("<unparsable name: %v>", err)
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return name.String()
}

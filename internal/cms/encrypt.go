package cms

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
)

// EncryptOptions configures CMS encryption.
type EncryptOptions struct {
	// Recipients is the list of recipient certificates.
	// Each recipient gets its own RecipientInfo in the EnvelopedData.
	Recipients []*x509.Certificate

	// Cipher is the content encryption algorithm, from a Registry.
	Cipher CipherAlgorithm

	// ContentType is the OID for the content being encrypted.
	// Defaults to id-data (1.2.840.113549.1.7.1).
	ContentType asn1.ObjectIdentifier

	// Rand is the source for the content key, the IV and the PKCS#1
	// padding. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Encrypt creates a CMS EnvelopedData structure wrapped in a ContentInfo.
// The data is encrypted with a random CEK (Content Encryption Key) in CBC
// mode, and the CEK is encrypted for each recipient with RSA PKCS#1 v1.5,
// the key transport every SCEP server accepts.
//
// If any recipient cannot be served the whole call fails.
func Encrypt(data []byte, opts *EncryptOptions) ([]byte, error) {
	if opts == nil {
		return nil, NewCMSError(OpEncrypt, errors.New("options are required"))
	}
	if len(opts.Recipients) == 0 {
		return nil, NewCMSError(OpEncrypt, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRecipient))
	}
	if opts.Cipher.NewBlock == nil {
		return nil, NewCMSError(OpEncrypt, fmt.Errorf("%w: no content cipher selected", ErrUnsupportedAlgorithm))
	}

	random := opts.Rand
	if random == nil {
		random = rand.Reader
	}
	contentType := opts.ContentType
	if contentType == nil {
		contentType = OIDData
	}

	// Generate random CEK
	cek := make([]byte, opts.Cipher.KeySize)
	if _, err := io.ReadFull(random, cek); err != nil {
		return nil, NewCMSError(OpEncrypt, fmt.Errorf("failed to generate CEK: %w", err))
	}

	encryptedContent, contentEncAlg, err := encryptContent(random, data, cek, opts.Cipher)
	if err != nil {
		return nil, NewCMSError(OpEncrypt, fmt.Errorf("%w: %v", ErrEncryptFailed, err))
	}

	recipientInfos := make([]asn1.RawValue, 0, len(opts.Recipients))
	for _, cert := range opts.Recipients {
		ri, err := createRecipientInfo(random, cek, cert)
		if err != nil {
			return nil, NewCMSError(OpEncrypt, fmt.Errorf("recipient %q: %w", cert.Subject.String(), err))
		}
		recipientInfos = append(recipientInfos, ri)
	}

	env := EnvelopedData{
		Version:        0, // version 0: issuerAndSerialNumber key transport only
		RecipientInfos: recipientInfos,
		EncryptedContentInfo: EncryptedContentInfo{
			ContentType:                contentType,
			ContentEncryptionAlgorithm: contentEncAlg,
			EncryptedContent:           encryptedContent,
		},
	}

	der, err := WrapContentInfo(OIDEnvelopedData, env)
	if err != nil {
		return nil, NewCMSError(OpEncrypt, fmt.Errorf("failed to marshal EnvelopedData: %w", err))
	}
	return der, nil
}

// encryptContent encrypts data in CBC mode with PKCS#7 padding. The IV is
// carried as the OCTET STRING parameter of the algorithm identifier.
func encryptContent(random io.Reader, data, cek []byte, alg CipherAlgorithm) ([]byte, pkix.AlgorithmIdentifier, error) {
	block, err := alg.NewBlock(cek)
	if err != nil {
		return nil, pkix.AlgorithmIdentifier{}, err
	}

	padded := pkcs7Pad(data, block.BlockSize())

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, pkix.AlgorithmIdentifier{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	ivBytes, err := asn1.Marshal(iv)
	if err != nil {
		return nil, pkix.AlgorithmIdentifier{}, err
	}

	algID := pkix.AlgorithmIdentifier{
		Algorithm:  alg.OID,
		Parameters: asn1.RawValue{FullBytes: ivBytes},
	}
	return ciphertext, algID, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// createRecipientInfo creates a RecipientInfo for a recipient certificate.
func createRecipientInfo(random io.Reader, cek []byte, cert *x509.Certificate) (asn1.RawValue, error) {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return createRSARecipientInfo(random, cek, cert, pub)
	default:
		return asn1.RawValue{}, fmt.Errorf("%w: recipient key type %T (RSA required)", ErrUnsupportedAlgorithm, pub)
	}
}

// createRSARecipientInfo creates a KeyTransRecipientInfo for RSA PKCS#1 v1.5.
func createRSARecipientInfo(random io.Reader, cek []byte, cert *x509.Certificate, pub *rsa.PublicKey) (asn1.RawValue, error) {
	encryptedKey, err := rsa.EncryptPKCS1v15(random, pub, cek)
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("%w: RSA key transport: %v", ErrEncryptFailed, err)
	}

	ktri := KeyTransRecipientInfo{
		Version: 0,
		RID:     NewIssuerAndSerial(cert),
		KeyEncryptionAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  OIDRSAEncryption,
			Parameters: asn1.NullRawValue,
		},
		EncryptedKey: encryptedKey,
	}

	ktriBytes, err := MarshalKeyTransRecipientInfo(&ktri)
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: ktriBytes}, nil
}

package cms

import (
	"crypto"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
)

// DecryptOptions configures CMS decryption.
type DecryptOptions struct {
	// PrivateKey is the recipient's private key for decryption.
	PrivateKey crypto.PrivateKey

	// Certificate is the recipient's certificate (optional, used for matching RecipientInfo).
	Certificate *x509.Certificate

	// Registry resolves the content encryption algorithm.
	Registry *Registry
}

// DecryptResult contains the decryption result.
type DecryptResult struct {
	// Content is the decrypted data.
	Content []byte

	// ContentType is the OID of the decrypted content.
	ContentType asn1.ObjectIdentifier

	// Cipher is the content encryption algorithm that was used.
	Cipher CipherAlgorithm
}

// Decrypt decrypts a CMS EnvelopedData structure.
// It finds the matching RecipientInfo for the provided private key,
// decrypts the CEK, and then decrypts the content.
func Decrypt(data []byte, opts *DecryptOptions) (*DecryptResult, error) {
	if opts == nil || opts.PrivateKey == nil {
		return nil, NewCMSError(OpDecrypt, errors.New("private key is required"))
	}
	if opts.Registry == nil {
		return nil, NewCMSError(OpDecrypt, errors.New("algorithm registry is required"))
	}

	env, err := ParseEnvelopedData(data)
	if err != nil {
		return nil, NewCMSError(OpDecrypt, err)
	}

	cek, err := decryptCEK(env, opts)
	if err != nil {
		return nil, NewCMSError(OpDecrypt, err)
	}

	alg, err := opts.Registry.CipherByOID(env.EncryptedContentInfo.ContentEncryptionAlgorithm.Algorithm)
	if err != nil {
		return nil, NewCMSError(OpDecrypt, err)
	}

	content, err := decryptContent(&env.EncryptedContentInfo, cek, alg)
	if err != nil {
		return nil, NewCMSError(OpDecrypt, fmt.Errorf("%w: %v", ErrDecryptFailed, err))
	}

	return &DecryptResult{
		Content:     content,
		ContentType: env.EncryptedContentInfo.ContentType,
		Cipher:      alg,
	}, nil
}

// decryptCEK finds the matching RecipientInfo and decrypts the CEK.
func decryptCEK(env *EnvelopedData, opts *DecryptOptions) ([]byte, error) {
	rsaPriv, ok := opts.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: RSA private key required, got %T", ErrUnsupportedAlgorithm, opts.PrivateKey)
	}

	for _, riRaw := range env.RecipientInfos {
		ktri, err := ParseKeyTransRecipientInfo(riRaw)
		if err != nil {
			continue
		}
		if opts.Certificate != nil && !ktri.RID.Matches(opts.Certificate) {
			continue
		}
		if !ktri.KeyEncryptionAlgorithm.Algorithm.Equal(OIDRSAEncryption) {
			continue
		}
		cek, err := rsa.DecryptPKCS1v15(nil, rsaPriv, ktri.EncryptedKey)
		if err == nil {
			return cek, nil
		}
		// Continue trying other RecipientInfos
	}

	return nil, fmt.Errorf("%w for provided key", ErrNoRecipient)
}

// decryptContent decrypts CBC content and removes the PKCS#7 padding.
func decryptContent(eci *EncryptedContentInfo, cek []byte, alg CipherAlgorithm) ([]byte, error) {
	var iv []byte
	if _, err := asn1.Unmarshal(eci.ContentEncryptionAlgorithm.Parameters.FullBytes, &iv); err != nil {
		return nil, fmt.Errorf("failed to parse IV: %w", err)
	}
	if len(iv) != alg.BlockSize {
		return nil, fmt.Errorf("invalid IV length: %d", len(iv))
	}
	if len(cek) != alg.KeySize {
		return nil, fmt.Errorf("invalid key length %d for %s", len(cek), alg.Name)
	}

	block, err := alg.NewBlock(cek)
	if err != nil {
		return nil, err
	}

	if len(eci.EncryptedContent) == 0 || len(eci.EncryptedContent)%alg.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of block size")
	}

	plaintext := make([]byte, len(eci.EncryptedContent))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, eci.EncryptedContent)

	return pkcs7Unpad(plaintext, alg.BlockSize)
}

func pkcs7Unpad(plaintext []byte, blockSize int) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(plaintext) {
		return nil, fmt.Errorf("invalid padding")
	}
	for i := len(plaintext) - padLen; i < len(plaintext); i++ {
		if plaintext[i] != byte(padLen) {
			return nil, fmt.Errorf("invalid PKCS#7 padding")
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

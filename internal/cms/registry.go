package cms

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm names understood by the registry.
const (
	DigestMD5     = "md5"
	DigestSHA1    = "sha1"
	DigestSHA224  = "sha224"
	DigestSHA256  = "sha256"
	DigestSHA384  = "sha384"
	DigestSHA512  = "sha512"
	DigestSHA3256 = "sha3-256"
	DigestSHA3384 = "sha3-384"
	DigestSHA3512 = "sha3-512"

	CipherDES3   = "des-ede3-cbc"
	CipherAES128 = "aes128-cbc"
	CipherAES192 = "aes192-cbc"
	CipherAES256 = "aes256-cbc"
)

// Legacy defaults expected by deployed SCEP servers.
const (
	DefaultDigest = DigestMD5
	DefaultCipher = CipherDES3
)

// DigestAlgorithm describes a message digest usable in a SignerInfo.
type DigestAlgorithm struct {
	Name string
	OID  asn1.ObjectIdentifier
	Hash crypto.Hash
	New  func() hash.Hash

	// Combined signature OIDs; nil when the combination is not defined.
	RSAOID   asn1.ObjectIdentifier
	ECDSAOID asn1.ObjectIdentifier

	// Legacy marks digests kept only for interoperability.
	Legacy bool
}

// Sum returns the digest of data.
func (d DigestAlgorithm) Sum(data []byte) []byte {
	h := d.New()
	h.Write(data)
	return h.Sum(nil)
}

// CipherAlgorithm describes a CBC content-encryption algorithm.
type CipherAlgorithm struct {
	Name      string
	OID       asn1.ObjectIdentifier
	KeySize   int
	BlockSize int
	NewBlock  func(key []byte) (cipher.Block, error)
	Legacy    bool
}

// Registry is an immutable table of the digest and cipher algorithms the
// builder may use. Build it once with NewRegistry and share it; lookups
// never modify it.
type Registry struct {
	digests map[string]DigestAlgorithm
	ciphers map[string]CipherAlgorithm
	aliases map[string]string
}

// NewRegistry returns the standard algorithm table.
func NewRegistry() *Registry {
	r := &Registry{
		digests: map[string]DigestAlgorithm{
			DigestMD5: {
				Name: DigestMD5, OID: OIDMD5, Hash: crypto.MD5, New: md5.New,
				RSAOID: OIDMD5WithRSA, Legacy: true,
			},
			DigestSHA1: {
				Name: DigestSHA1, OID: OIDSHA1, Hash: crypto.SHA1, New: sha1.New,
				RSAOID: OIDSHA1WithRSA, Legacy: true,
			},
			DigestSHA224: {
				Name: DigestSHA224, OID: OIDSHA224, Hash: crypto.SHA224, New: sha256.New224,
				RSAOID: OIDSHA224WithRSA, ECDSAOID: OIDECDSAWithSHA224,
			},
			DigestSHA256: {
				Name: DigestSHA256, OID: OIDSHA256, Hash: crypto.SHA256, New: sha256.New,
				RSAOID: OIDSHA256WithRSA, ECDSAOID: OIDECDSAWithSHA256,
			},
			DigestSHA384: {
				Name: DigestSHA384, OID: OIDSHA384, Hash: crypto.SHA384, New: sha512.New384,
				RSAOID: OIDSHA384WithRSA, ECDSAOID: OIDECDSAWithSHA384,
			},
			DigestSHA512: {
				Name: DigestSHA512, OID: OIDSHA512, Hash: crypto.SHA512, New: sha512.New,
				RSAOID: OIDSHA512WithRSA, ECDSAOID: OIDECDSAWithSHA512,
			},
			DigestSHA3256: {
				Name: DigestSHA3256, OID: OIDSHA3_256, Hash: crypto.SHA3_256, New: sha3.New256,
				RSAOID: OIDSHA3_256WithRSA, ECDSAOID: OIDECDSAWithSHA3_256,
			},
			DigestSHA3384: {
				Name: DigestSHA3384, OID: OIDSHA3_384, Hash: crypto.SHA3_384, New: sha3.New384,
				RSAOID: OIDSHA3_384WithRSA, ECDSAOID: OIDECDSAWithSHA3_384,
			},
			DigestSHA3512: {
				Name: DigestSHA3512, OID: OIDSHA3_512, Hash: crypto.SHA3_512, New: sha3.New512,
				RSAOID: OIDSHA3_512WithRSA, ECDSAOID: OIDECDSAWithSHA3_512,
			},
		},
		ciphers: map[string]CipherAlgorithm{
			CipherDES3: {
				Name: CipherDES3, OID: OIDDESEDE3CBC, KeySize: 24, BlockSize: des.BlockSize,
				NewBlock: des.NewTripleDESCipher, Legacy: true,
			},
			CipherAES128: {
				Name: CipherAES128, OID: OIDAES128CBC, KeySize: 16, BlockSize: aes.BlockSize,
				NewBlock: aes.NewCipher,
			},
			CipherAES192: {
				Name: CipherAES192, OID: OIDAES192CBC, KeySize: 24, BlockSize: aes.BlockSize,
				NewBlock: aes.NewCipher,
			},
			CipherAES256: {
				Name: CipherAES256, OID: OIDAES256CBC, KeySize: 32, BlockSize: aes.BlockSize,
				NewBlock: aes.NewCipher,
			},
		},
		aliases: map[string]string{
			"sha-1":        DigestSHA1,
			"sha-224":      DigestSHA224,
			"sha-256":      DigestSHA256,
			"sha-384":      DigestSHA384,
			"sha-512":      DigestSHA512,
			"sha3256":      DigestSHA3256,
			"sha3384":      DigestSHA3384,
			"sha3512":      DigestSHA3512,
			"des3":         CipherDES3,
			"3des":         CipherDES3,
			"des-ede3":     CipherDES3,
			"tripledes":    CipherDES3,
			"aes128":       CipherAES128,
			"aes-128-cbc":  CipherAES128,
			"aes192":       CipherAES192,
			"aes-192-cbc":  CipherAES192,
			"aes256":       CipherAES256,
			"aes-256-cbc":  CipherAES256,
			"aes":          CipherAES128,
		},
	}
	return r
}

func (r *Registry) canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := r.aliases[n]; ok {
		return c
	}
	return n
}

// Digest looks up a digest algorithm by name or alias.
func (r *Registry) Digest(name string) (DigestAlgorithm, error) {
	d, ok := r.digests[r.canonical(name)]
	if !ok {
		return DigestAlgorithm{}, fmt.Errorf("%w: digest %q", ErrUnsupportedAlgorithm, name)
	}
	return d, nil
}

// Cipher looks up a content-encryption algorithm by name or alias.
func (r *Registry) Cipher(name string) (CipherAlgorithm, error) {
	c, ok := r.ciphers[r.canonical(name)]
	if !ok {
		return CipherAlgorithm{}, fmt.Errorf("%w: cipher %q", ErrUnsupportedAlgorithm, name)
	}
	return c, nil
}

// DigestByOID looks up a digest algorithm by its object identifier.
func (r *Registry) DigestByOID(oid asn1.ObjectIdentifier) (DigestAlgorithm, error) {
	for _, d := range r.digests {
		if d.OID.Equal(oid) {
			return d, nil
		}
	}
	return DigestAlgorithm{}, fmt.Errorf("%w: digest OID %v", ErrUnsupportedAlgorithm, oid)
}

// CipherByOID looks up a content-encryption algorithm by its object identifier.
func (r *Registry) CipherByOID(oid asn1.ObjectIdentifier) (CipherAlgorithm, error) {
	for _, c := range r.ciphers {
		if c.OID.Equal(oid) {
			return c, nil
		}
	}
	return CipherAlgorithm{}, fmt.Errorf("%w: cipher OID %v", ErrUnsupportedAlgorithm, oid)
}

// DigestNames returns the canonical digest names, sorted.
func (r *Registry) DigestNames() []string {
	names := make([]string, 0, len(r.digests))
	for n := range r.digests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CipherNames returns the canonical cipher names, sorted.
func (r *Registry) CipherNames() []string {
	names := make([]string, 0, len(r.ciphers))
	for n := range r.ciphers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

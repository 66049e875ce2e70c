package crypto

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OIDEd448 is id-Ed448 (RFC 8410).
var OIDEd448 = asn1.ObjectIdentifier{1, 3, 101, 113}

// ParseEd448PrivateKey parses an RFC 8410 PKCS#8 Ed448 key:
//
//	PrivateKeyInfo ::= SEQUENCE { version, AlgorithmIdentifier, OCTET STRING { OCTET STRING seed } }
func ParseEd448PrivateKey(der []byte) (ed448.PrivateKey, error) {
	input := cryptobyte.String(der)

	var info, algID, wrapped, seed cryptobyte.String
	var version int
	var oid asn1.ObjectIdentifier
	if !input.ReadASN1(&info, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("malformed PKCS#8 structure")
	}
	if !info.ReadASN1Integer(&version) || version > 1 {
		return nil, errors.New("unsupported PKCS#8 version")
	}
	if !info.ReadASN1(&algID, cbasn1.SEQUENCE) || !algID.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("malformed private key algorithm")
	}
	if !oid.Equal(OIDEd448) {
		return nil, fmt.Errorf("not an Ed448 key: %v", oid)
	}
	if !info.ReadASN1(&wrapped, cbasn1.OCTET_STRING) || !wrapped.ReadASN1(&seed, cbasn1.OCTET_STRING) {
		return nil, errors.New("malformed Ed448 private key")
	}
	if len(seed) != ed448.SeedSize {
		return nil, fmt.Errorf("invalid Ed448 seed length %d", len(seed))
	}
	return ed448.NewKeyFromSeed(seed), nil
}

// MarshalEd448PrivateKey encodes priv as RFC 8410 PKCS#8.
func MarshalEd448PrivateKey(priv ed448.PrivateKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(0)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(OIDEd448)
		})
		b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(priv.Seed())
		})
	})
	return b.Bytes()
}

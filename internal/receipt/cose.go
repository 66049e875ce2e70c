package receipt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/sign/ed448"
	gocose "github.com/veraison/go-cose"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/qscep/internal/cms"
)

// headerX5Chain is the COSE x5chain header label (RFC 9360).
const headerX5Chain int64 = 33

// algEd448 is the private-use label for Ed448. go-cose only verifies
// Ed25519 under EdDSA, so Ed448 keys get their own label.
const algEd448 gocose.Algorithm = -65536

// coseAlgorithm picks the COSE algorithm for a signing key.
func coseAlgorithm(pub crypto.PublicKey) (gocose.Algorithm, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return gocose.AlgorithmES256, nil
		case 384:
			return gocose.AlgorithmES384, nil
		case 521:
			return gocose.AlgorithmES512, nil
		}
		return 0, fmt.Errorf("unsupported ECDSA curve: %s", k.Curve.Params().Name)
	case ed25519.PublicKey:
		return gocose.AlgorithmEdDSA, nil
	case ed448.PublicKey:
		return algEd448, nil
	case *rsa.PublicKey:
		return gocose.AlgorithmPS256, nil
	}
	return 0, fmt.Errorf("unsupported key type for receipt: %T", pub)
}

func hashFor(alg gocose.Algorithm) crypto.Hash {
	switch alg {
	case gocose.AlgorithmES384:
		return crypto.SHA384
	case gocose.AlgorithmES512:
		return crypto.SHA512
	case gocose.AlgorithmEdDSA, algEd448:
		return 0
	}
	return crypto.SHA256
}

// coseSigner adapts a crypto.Signer to gocose.Signer.
type coseSigner struct {
	key crypto.Signer
	alg gocose.Algorithm
}

func newCOSESigner(key crypto.Signer) (*coseSigner, error) {
	alg, err := coseAlgorithm(key.Public())
	if err != nil {
		return nil, err
	}
	return &coseSigner{key: key, alg: alg}, nil
}

func (s *coseSigner) Algorithm() gocose.Algorithm {
	return s.alg
}

// Sign signs the COSE Sig_structure. EdDSA keys sign it directly; the
// other algorithms sign its hash.
func (s *coseSigner) Sign(rand io.Reader, content []byte) ([]byte, error) {
	h := hashFor(s.alg)
	if h == 0 {
		return s.key.Sign(rand, content, crypto.Hash(0))
	}

	hasher := h.New()
	hasher.Write(content)
	digest := hasher.Sum(nil)

	var opts crypto.SignerOpts = h
	if s.alg == gocose.AlgorithmPS256 {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
	}
	sig, err := s.key.Sign(rand, digest, opts)
	if err != nil {
		return nil, err
	}
	if _, ok := s.key.Public().(*ecdsa.PublicKey); ok {
		return ecdsaDERToRaw(sig, s.alg)
	}
	return sig, nil
}

// ed448Verifier covers the one key type go-cose has no verifier for.
type ed448Verifier struct {
	pub ed448.PublicKey
}

func (v ed448Verifier) Algorithm() gocose.Algorithm {
	return algEd448
}

func (v ed448Verifier) Verify(content, sig []byte) error {
	if !ed448.Verify(v.pub, content, sig, "") {
		return gocose.ErrVerification
	}
	return nil
}

func newVerifier(alg gocose.Algorithm, pub crypto.PublicKey) (gocose.Verifier, error) {
	if alg == algEd448 {
		k, ok := pub.(ed448.PublicKey)
		if !ok {
			return nil, fmt.Errorf("algorithm Ed448 does not match key type %T", pub)
		}
		return ed448Verifier{pub: k}, nil
	}
	return gocose.NewVerifier(alg, pub)
}

// ecdsaDERToRaw converts an ASN.1 ECDSA signature to the fixed-width
// r||s form COSE uses.
func ecdsaDERToRaw(sig []byte, alg gocose.Algorithm) ([]byte, error) {
	var size int
	switch alg {
	case gocose.AlgorithmES256:
		size = 32
	case gocose.AlgorithmES384:
		size = 48
	case gocose.AlgorithmES512:
		size = 66
	default:
		return nil, fmt.Errorf("not an ECDSA algorithm: %d", alg)
	}

	var r, s big.Int
	var inner cryptobyte.String
	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(&r) || !inner.ReadASN1Integer(&s) || !inner.Empty() {
		return nil, errors.New("malformed ECDSA signature")
	}
	if r.Sign() < 0 || s.Sign() < 0 || len(r.Bytes()) > size || len(s.Bytes()) > size {
		return nil, errors.New("ECDSA signature out of range")
	}

	raw := make([]byte, 2*size)
	r.FillBytes(raw[:size])
	s.FillBytes(raw[size:])
	return raw, nil
}

// Sign encodes r and signs it as a COSE_Sign1 message. cert travels in
// the x5chain header and must hold the public half of key.
func Sign(r *Receipt, key crypto.Signer, cert *x509.Certificate, rand io.Reader) ([]byte, error) {
	if key == nil || cert == nil {
		return nil, errors.New("receipt signing requires a key and its certificate")
	}
	payload, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	signer, err := newCOSESigner(key)
	if err != nil {
		return nil, err
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected = gocose.ProtectedHeader{
		gocose.HeaderLabelAlgorithm:   signer.Algorithm(),
		gocose.HeaderLabelContentType: ContentType,
		headerX5Chain:                 [][]byte{cert.Raw},
	}
	msg.Payload = payload

	if err := msg.Sign(rand, nil, signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}
	return msg.MarshalCBOR()
}

// Signed is a decoded, not yet verified, receipt.
type Signed struct {
	Receipt     *Receipt
	Algorithm   gocose.Algorithm
	Certificate *x509.Certificate // from x5chain, nil if absent

	msg *gocose.Sign1Message
}

// Parse decodes a COSE_Sign1 receipt without checking its signature.
func Parse(data []byte) (*Signed, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if ct, ok := msg.Headers.Protected[gocose.HeaderLabelContentType]; ok && ct != ContentType {
		return nil, fmt.Errorf("%w: unexpected content type %v", ErrInvalidReceipt, ct)
	}
	r, err := Unmarshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	return &Signed{
		Receipt:     r,
		Algorithm:   alg,
		Certificate: certFromX5Chain(msg.Headers.Protected[headerX5Chain]),
		msg:         &msg,
	}, nil
}

// Verify checks the signature with cert, or with the embedded x5chain
// certificate when cert is nil.
func (s *Signed) Verify(cert *x509.Certificate) error {
	if cert == nil {
		cert = s.Certificate
	}
	if cert == nil {
		return fmt.Errorf("%w: no certificate to verify with", ErrSignature)
	}
	pub, err := cms.SignerPublicKey(cert)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	verifier, err := newVerifier(s.Algorithm, pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if err := s.msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// Verify parses data and checks it against cert (or the embedded
// certificate when cert is nil).
func Verify(data []byte, cert *x509.Certificate) (*Signed, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := s.Verify(cert); err != nil {
		return nil, err
	}
	return s, nil
}

func certFromX5Chain(v any) *x509.Certificate {
	var der []byte
	switch c := v.(type) {
	case []byte:
		der = c
	case []any:
		if len(c) > 0 {
			der, _ = c[0].([]byte)
		}
	case [][]byte:
		if len(c) > 0 {
			der = c[0]
		}
	}
	if der == nil {
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil
	}
	return cert
}

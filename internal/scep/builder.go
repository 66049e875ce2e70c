package scep

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/remiblancher/qscep/internal/cms"
	"github.com/remiblancher/qscep/internal/x509util"
)

// Option configures a Builder.
type Option func(*options)

type options struct {
	digest        string
	cipher        string
	random        io.Reader
	clock         func() time.Time
	signingTime   bool
	omitPKIStatus bool
	hashedRSAOID  bool
	csrPolicy     *x509util.CSRPolicy
}

// WithDigest selects the SignerInfo digest by registry name.
func WithDigest(name string) Option {
	return func(o *options) { o.digest = name }
}

// WithCipher selects the content-encryption cipher by registry name.
func WithCipher(name string) Option {
	return func(o *options) { o.cipher = name }
}

// WithRand replaces crypto/rand.Reader as the source of nonces, the
// transaction ID, the content key and IVs. The reader must be safe for
// concurrent use if the Builder is shared; see LockedReader.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithClock sets the clock used for the signingTime attribute.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithoutSigningTime omits the signingTime signed attribute.
func WithoutSigningTime() Option {
	return func(o *options) { o.signingTime = false }
}

// WithoutPKIStatus omits the pkiStatus attribute from requests.
func WithoutPKIStatus() Option {
	return func(o *options) { o.omitPKIStatus = true }
}

// WithHashedRSASignatureOID makes RSA signers declare
// <digest>WithRSAEncryption instead of rsaEncryption.
func WithHashedRSASignatureOID() Option {
	return func(o *options) { o.hashedRSAOID = true }
}

// WithCSRPolicy runs the CSR preflight before anything is generated. A
// rejected request is an input error.
func WithCSRPolicy(policy x509util.CSRPolicy) Option {
	return func(o *options) { o.csrPolicy = &policy }
}

// Builder produces PKCSReq messages. It is immutable once built and safe
// for concurrent use provided its random source is.
type Builder struct {
	digest       cms.DigestAlgorithm
	cipher       cms.CipherAlgorithm
	random       io.Reader
	clock        func() time.Time
	signingTime  bool
	pkiStatus    PKIStatus
	hashedRSAOID bool
	csrPolicy    *x509util.CSRPolicy
}

// NewBuilder resolves the selected algorithms against reg. Unknown names
// are input errors.
func NewBuilder(reg *cms.Registry, opts ...Option) (*Builder, error) {
	if reg == nil {
		return nil, inputError("new builder", errors.New("algorithm registry is required"))
	}

	o := options{
		digest:      cms.DefaultDigest,
		cipher:      cms.DefaultCipher,
		random:      rand.Reader,
		clock:       time.Now,
		signingTime: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	digest, err := reg.Digest(o.digest)
	if err != nil {
		return nil, inputError("new builder", err)
	}
	cipher, err := reg.Cipher(o.cipher)
	if err != nil {
		return nil, inputError("new builder", err)
	}
	if o.random == nil {
		o.random = rand.Reader
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	b := &Builder{
		digest:       digest,
		cipher:       cipher,
		random:       o.random,
		clock:        o.clock,
		signingTime:  o.signingTime,
		pkiStatus:    PKIStatusPending,
		hashedRSAOID: o.hashedRSAOID,
		csrPolicy:    o.csrPolicy,
	}
	if o.omitPKIStatus {
		b.pkiStatus = ""
	}
	return b, nil
}

// Digest returns the digest algorithm the builder signs with.
func (b *Builder) Digest() cms.DigestAlgorithm { return b.digest }

// Cipher returns the content-encryption algorithm.
func (b *Builder) Cipher() cms.CipherAlgorithm { return b.cipher }

// Identity is a signing certificate with its private key.
type Identity struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
}

// Request holds the parsed inputs of one build.
type Request struct {
	Identity   Identity
	Recipients []*x509.Certificate // the CA; exactly one in practice
	CSR        *x509.CertificateRequest
}

// Message is a finalized PKCSReq. It is never modified after Build returns.
type Message struct {
	der []byte

	TransactionID  string
	SenderNonce    []byte
	RecipientNonce []byte
	Digest         string
	Cipher         string
}

// DER returns a copy of the encoded ContentInfo.
func (m *Message) DER() []byte {
	return append([]byte(nil), m.der...)
}

// EncodePEM writes the message framed as SCEP MESSAGE.
func (m *Message) EncodePEM(w io.Writer) error {
	return EncodePEM(w, m.der, PEMLabel)
}

// PEM returns the PEM text of the message.
func (m *Message) PEM() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.EncodePEM(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Build runs the full pipeline: attributes, envelope, signed message.
// The context is checked between stages; a cancelled build returns an
// ErrIO error and produces nothing.
func (b *Builder) Build(ctx context.Context, req *Request) (*Message, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if b.csrPolicy != nil {
		if err := x509util.CheckCSR(req.CSR, *b.csrPolicy); err != nil {
			return nil, inputError("check certificate request", err)
		}
	}
	if err := checkContext(ctx, "build"); err != nil {
		return nil, err
	}

	attrs, err := BuildAttributes(b.random)
	if err != nil {
		return nil, err
	}
	attrs.PKIStatus = b.pkiStatus
	attrList, err := attrs.List()
	if err != nil {
		return nil, integrityError("build attributes", err)
	}
	if err := checkContext(ctx, "build"); err != nil {
		return nil, err
	}

	envelope, err := cms.Encrypt(req.CSR.Raw, &cms.EncryptOptions{
		Recipients: req.Recipients,
		Cipher:     b.cipher,
		Rand:       b.random,
	})
	if err != nil {
		return nil, classifyCMS("encrypt", err)
	}
	if err := checkContext(ctx, "build"); err != nil {
		return nil, err
	}

	der, err := b.assemble(req.Identity, attrList, envelope)
	if err != nil {
		return nil, err
	}

	return &Message{
		der:            der,
		TransactionID:  attrs.TransactionID,
		SenderNonce:    attrs.SenderNonce,
		RecipientNonce: attrs.RecipientNonce,
		Digest:         b.digest.Name,
		Cipher:         b.cipher.Name,
	}, nil
}

// WritePEM builds a message and writes it to w. Nothing is written unless
// the build succeeds.
func (b *Builder) WritePEM(ctx context.Context, w io.Writer, req *Request) (*Message, error) {
	msg, err := b.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := msg.EncodePEM(w); err != nil {
		return nil, err
	}
	return msg, nil
}

func (b *Builder) assemble(id Identity, attrs []cms.Attribute, envelope []byte) ([]byte, error) {
	a := newAssembler(b.random)
	steps := []func() error{
		a.setType,
		a.initContent,
		func() error { return a.addCertificate(id.Certificate) },
		func() error { return a.addSigner(id.Signer, b.digest, b.hashedRSAOID) },
		func() error { return a.attachAttributes(attrs) },
		func() error { return a.writeContent(envelope) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	var signingTime time.Time
	if b.signingTime {
		signingTime = b.clock().UTC()
	}
	return a.finalize(signingTime)
}

func validateRequest(req *Request) error {
	if req == nil {
		return inputError("validate", errors.New("request is required"))
	}
	if req.Identity.Certificate == nil {
		return inputError("validate", errors.New("signer certificate is required"))
	}
	if req.Identity.Signer == nil {
		return inputError("validate", errors.New("signer key is required"))
	}
	if len(req.Recipients) == 0 {
		return inputError("validate", errors.New("CA certificate is required"))
	}
	for i, r := range req.Recipients {
		if r == nil {
			return inputError("validate", fmt.Errorf("recipient %d is nil", i))
		}
	}
	if req.CSR == nil || len(req.CSR.Raw) == 0 {
		return inputError("validate", errors.New("certificate request is required"))
	}
	return checkKeyMatchesCertificate(req.Identity)
}

// checkKeyMatchesCertificate rejects a signer whose public key is not the
// certificate's, since such a message would never verify downstream.
func checkKeyMatchesCertificate(id Identity) error {
	certPub, err := cms.SignerPublicKey(id.Certificate)
	if err != nil {
		return inputError("validate", fmt.Errorf("unsupported signer certificate: %w", err))
	}
	pub, ok := id.Signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return inputError("validate", fmt.Errorf("unsupported signer key type %T", id.Signer.Public()))
	}
	if !pub.Equal(certPub) {
		return inputError("validate", errors.New("private key does not match signer certificate"))
	}
	return nil
}

func checkContext(ctx context.Context, op string) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ioError(op, err)
	}
	return nil
}

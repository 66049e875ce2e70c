package scep

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/remiblancher/qscep/internal/cms"
)

// assemblerState tracks the one-shot SignedData construction.
type assemblerState int

const (
	stateNew assemblerState = iota
	stateTypeSet
	stateContentInitialized
	stateCertAdded
	stateSignerAdded
	stateAttrsAttached
	stateContentWritten
	stateFinalized
	stateFailed
)

var stateNames = [...]string{
	stateNew:                "NEW",
	stateTypeSet:            "TYPE_SET",
	stateContentInitialized: "CONTENT_INITIALIZED",
	stateCertAdded:          "CERT_ADDED",
	stateSignerAdded:        "SIGNER_ADDED",
	stateAttrsAttached:      "ATTRS_ATTACHED",
	stateContentWritten:     "CONTENT_WRITTEN",
	stateFinalized:          "FINALIZED",
	stateFailed:             "FAILED",
}

func (s assemblerState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("assemblerState(%d)", int(s))
}

// assembler builds a single-signer SignedData. Each step must be called
// exactly once, in order; the first failure is terminal.
type assembler struct {
	state  assemblerState
	random io.Reader

	sd          cms.SignedData
	cert        *x509.Certificate
	signer      crypto.Signer
	digest      cms.DigestAlgorithm
	sigAlg      pkix.AlgorithmIdentifier
	contentType cms.Attribute
	attrs       []cms.Attribute
	content     []byte
}

func newAssembler(random io.Reader) *assembler {
	return &assembler{state: stateNew, random: random}
}

func (a *assembler) transition(op string, from, to assemblerState) error {
	if a.state != from {
		err := integrityError(op, fmt.Errorf("assembler is %s, want %s", a.state, from))
		a.state = stateFailed
		return err
	}
	a.state = to
	return nil
}

func (a *assembler) fail(err error) error {
	a.state = stateFailed
	return err
}

// setType declares the container as SignedData.
func (a *assembler) setType() error {
	if err := a.transition("set type", stateNew, stateTypeSet); err != nil {
		return err
	}
	a.sd.Version = 1
	return nil
}

// initContent sets the encapsulated content type to id-data. The envelope
// is carried as opaque octets, which is what SCEP servers expect.
func (a *assembler) initContent() error {
	if err := a.transition("init content", stateTypeSet, stateContentInitialized); err != nil {
		return err
	}
	a.sd.EncapContentInfo.EContentType = cms.OIDData
	return nil
}

func (a *assembler) addCertificate(cert *x509.Certificate) error {
	if err := a.transition("add certificate", stateContentInitialized, stateCertAdded); err != nil {
		return err
	}
	if cert == nil || len(cert.Raw) == 0 {
		return a.fail(inputError("add certificate", errors.New("signer certificate is empty")))
	}
	set, err := cms.NewCertificateSet(cert)
	if err != nil {
		return a.fail(integrityError("add certificate", err))
	}
	a.sd.Certificates = set
	a.cert = cert
	return nil
}

func (a *assembler) addSigner(signer crypto.Signer, digest cms.DigestAlgorithm, hashedRSA bool) error {
	if err := a.transition("add signer", stateCertAdded, stateSignerAdded); err != nil {
		return err
	}
	sigAlg, err := cms.SignatureAlgorithmIdentifier(signer.Public(), digest, hashedRSA)
	if err != nil {
		return a.fail(cryptoError("add signer", err))
	}
	a.signer = signer
	a.digest = digest
	a.sigAlg = sigAlg
	a.sd.DigestAlgorithms = []pkix.AlgorithmIdentifier{cms.DigestAlgorithmIdentifier(digest)}
	return nil
}

// attachAttributes records the SCEP attributes and the contentType
// attribute, which always declares id-data.
func (a *assembler) attachAttributes(attrs []cms.Attribute) error {
	if err := a.transition("attach attributes", stateSignerAdded, stateAttrsAttached); err != nil {
		return err
	}
	ct, err := cms.NewContentTypeAttr(cms.OIDData)
	if err != nil {
		return a.fail(integrityError("attach attributes", err))
	}
	a.attrs = append([]cms.Attribute(nil), attrs...)
	a.contentType = ct
	return nil
}

func (a *assembler) writeContent(content []byte) error {
	if err := a.transition("write content", stateAttrsAttached, stateContentWritten); err != nil {
		return err
	}
	a.content = append([]byte(nil), content...)
	return nil
}

// finalize digests the content, signs the attribute set and returns the
// DER of the ContentInfo. A zero signingTime omits the attribute.
func (a *assembler) finalize(signingTime time.Time) ([]byte, error) {
	if err := a.transition("finalize", stateContentWritten, stateFinalized); err != nil {
		return nil, err
	}
	if len(a.content) == 0 {
		return nil, a.fail(integrityError("finalize", errors.New("signed content is empty")))
	}

	md, err := cms.NewMessageDigestAttr(a.digest.Sum(a.content))
	if err != nil {
		return nil, a.fail(cryptoError("finalize", err))
	}
	signed := append(append([]cms.Attribute(nil), a.attrs...), a.contentType, md)
	if !signingTime.IsZero() {
		st, err := cms.NewSigningTimeAttr(signingTime)
		if err != nil {
			return nil, a.fail(cryptoError("finalize", err))
		}
		signed = append(signed, st)
	}

	set, err := cms.MarshalSignedAttrs(signed)
	if err != nil {
		return nil, a.fail(integrityError("finalize", err))
	}

	signature, err := cms.SignAttributes(a.random, a.signer, a.digest, set)
	if err != nil {
		return nil, a.fail(cryptoError("sign", err))
	}

	encap, err := cms.NewEncapsulatedContent(a.sd.EncapContentInfo.EContentType, a.content)
	if err != nil {
		return nil, a.fail(integrityError("finalize", err))
	}
	a.sd.EncapContentInfo = encap
	a.sd.SignerInfos = []cms.SignerInfo{{
		Version:            1,
		SID:                cms.NewIssuerAndSerial(a.cert),
		DigestAlgorithm:    cms.DigestAlgorithmIdentifier(a.digest),
		SignedAttrs:        cms.ImplicitSignedAttrs(set),
		SignatureAlgorithm: a.sigAlg,
		Signature:          signature,
	}}

	der, err := cms.WrapContentInfo(cms.OIDSignedData, a.sd)
	if err != nil {
		return nil, a.fail(integrityError("finalize", fmt.Errorf("failed to marshal SignedData: %w", err)))
	}
	if err := checkAssembled(der); err != nil {
		return nil, a.fail(err)
	}
	return der, nil
}

// checkAssembled re-parses the finished message and rejects it if the
// signed content or the signature came out empty.
func checkAssembled(der []byte) error {
	sd, err := cms.ParseSignedData(der)
	if err != nil {
		return integrityError("check", err)
	}
	content, err := sd.EncapContentInfo.Content()
	if err != nil {
		return integrityError("check", err)
	}
	if len(content) == 0 {
		return integrityError("check", errors.New("signed content is empty"))
	}
	if len(sd.SignerInfos) != 1 {
		return integrityError("check", fmt.Errorf("expected 1 signer, found %d", len(sd.SignerInfos)))
	}
	if len(sd.SignerInfos[0].Signature) == 0 {
		return integrityError("check", errors.New("signature is empty"))
	}
	return nil
}

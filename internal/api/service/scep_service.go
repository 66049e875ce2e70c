// Package service implements the REST API operations on top of the scep
// package.
package service

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/remiblancher/qscep/internal/api/dto"
	"github.com/remiblancher/qscep/internal/audit"
	"github.com/remiblancher/qscep/internal/cms"
	qcrypto "github.com/remiblancher/qscep/internal/crypto"
	"github.com/remiblancher/qscep/internal/scep"
	"github.com/remiblancher/qscep/internal/x509util"
)

// SCEPService builds and inspects PKCSReq messages.
type SCEPService struct {
	registry *cms.Registry
	options  []scep.Option
	builder  *scep.Builder
}

// NewSCEPService creates a service whose default builder uses opts.
func NewSCEPService(reg *cms.Registry, opts ...scep.Option) (*SCEPService, error) {
	b, err := scep.NewBuilder(reg, opts...)
	if err != nil {
		return nil, err
	}
	return &SCEPService{registry: reg, options: opts, builder: b}, nil
}

// builderFor returns the default builder, or a new one when the request
// overrides an algorithm.
func (s *SCEPService) builderFor(req *dto.SCEPRequest) (*scep.Builder, error) {
	if req.Digest == "" && req.Cipher == "" {
		return s.builder, nil
	}
	opts := append([]scep.Option(nil), s.options...)
	if req.Digest != "" {
		opts = append(opts, scep.WithDigest(req.Digest))
	}
	if req.Cipher != "" {
		opts = append(opts, scep.WithCipher(req.Cipher))
	}
	return scep.NewBuilder(s.registry, opts...)
}

// Build parses the PEM inputs and builds a PKCSReq.
func (s *SCEPService) Build(ctx context.Context, req *dto.SCEPRequest) (*scep.Message, error) {
	b, err := s.builderFor(req)
	if err != nil {
		return nil, err
	}
	info := audit.RequestInfo{Digest: b.Digest().Name, Cipher: b.Cipher().Name}

	r, err := parseRequest(req)
	if err != nil {
		return nil, s.fail(info, err)
	}
	info.Subject = r.CSR.Subject.String()
	info.SignerSerial = r.Identity.Certificate.SerialNumber.String()

	msg, err := b.Build(ctx, r)
	if err != nil {
		return nil, s.fail(info, err)
	}

	info.TransactionID = msg.TransactionID
	info.Recipient = r.Recipients[0].Subject.String()
	if err := audit.LogRequestBuilt(info); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SCEPService) fail(info audit.RequestInfo, cause error) error {
	if err := audit.LogRequestFailed(info, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func parseRequest(req *dto.SCEPRequest) (*scep.Request, error) {
	if req.Certificate == "" || req.PrivateKey == "" || req.CACertificate == "" || req.CSR == "" {
		return nil, scep.NewError(scep.ErrInput, "parse request",
			errors.New("certificate, private_key, ca_certificate and csr are required"))
	}
	cert, err := scep.ParseCertificatePEM([]byte(req.Certificate))
	if err != nil {
		return nil, err
	}
	signer, err := qcrypto.ParsePrivateKey([]byte(req.PrivateKey), []byte(req.KeyPassphrase))
	if err != nil {
		return nil, scep.NewError(scep.ErrInput, "parse private key", err)
	}
	ca, err := scep.ParseCertificatePEM([]byte(req.CACertificate))
	if err != nil {
		return nil, err
	}
	csr, err := scep.ParseCSRPEM([]byte(req.CSR))
	if err != nil {
		return nil, err
	}
	return &scep.Request{
		Identity:   scep.Identity{Certificate: cert, Signer: signer},
		Recipients: []*x509.Certificate{ca},
		CSR:        csr,
	}, nil
}

// Respond converts msg to the JSON response body.
func Respond(msg *scep.Message) (*dto.SCEPResponse, error) {
	pemBytes, err := msg.PEM()
	if err != nil {
		return nil, err
	}
	return &dto.SCEPResponse{
		Message:        string(pemBytes),
		TransactionID:  msg.TransactionID,
		SenderNonce:    hex.EncodeToString(msg.SenderNonce),
		RecipientNonce: hex.EncodeToString(msg.RecipientNonce),
		Digest:         msg.Digest,
		Cipher:         msg.Cipher,
	}, nil
}

// Inspect decodes a message given as PEM or base64 DER.
func (s *SCEPService) Inspect(_ context.Context, req *dto.InspectRequest) (*dto.InspectResponse, error) {
	der, err := decodeMessage(req.Message)
	if err != nil {
		return nil, err
	}
	info, err := scep.Inspect(der, s.registry)
	if err != nil {
		return nil, err
	}
	if err := audit.LogInspect("", info.TransactionID, info.SignatureValid()); err != nil {
		return nil, err
	}

	resp := &dto.InspectResponse{
		MessageType:        string(info.MessageType),
		PKIStatus:          string(info.PKIStatus),
		TransactionID:      info.TransactionID,
		SenderNonce:        hex.EncodeToString(info.SenderNonce),
		RecipientNonce:     hex.EncodeToString(info.RecipientNonce),
		ContentType:        info.ContentType.String(),
		Digest:             info.Digest,
		SignatureAlgorithm: x509util.SignatureAlgorithmName(info.SignatureAlgorithm),
		Cipher:             info.Cipher,
		Recipients:         []dto.RecipientInfo{},
		SignatureValid:     info.SignatureValid(),
	}
	if !info.SigningTime.IsZero() {
		resp.SigningTime = info.SigningTime.UTC().Format(time.RFC3339)
	}
	if info.SignatureError != nil {
		resp.SignatureError = info.SignatureError.Error()
	}
	if c := info.Signer; c != nil {
		resp.Signer = &dto.CertificateInfo{
			Subject: c.Subject.String(),
			Issuer:  c.Issuer.String(),
			Serial:  c.SerialNumber.String(),
			Key:     x509util.DescribeKey(c),
		}
	}
	for _, r := range info.Recipients {
		resp.Recipients = append(resp.Recipients, dto.RecipientInfo{
			Issuer: r.Issuer,
			Serial: r.Serial.String(),
		})
	}
	return resp, nil
}

func decodeMessage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, scep.NewError(scep.ErrInput, "decode message", errors.New("message is required"))
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return scep.DecodePEM([]byte(s))
	}
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, scep.NewError(scep.ErrInput, "decode message", err)
	}
	return der, nil
}

package main

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/audit"
	"github.com/remiblancher/qscep/internal/cms"
	"github.com/remiblancher/qscep/internal/config"
	"github.com/remiblancher/qscep/internal/crypto"
	"github.com/remiblancher/qscep/internal/receipt"
	"github.com/remiblancher/qscep/internal/scep"
)

// Request command flags
var (
	reqCertPath      string
	reqKeyPath       string
	reqKeyPassphrase string
	reqHSMConfig     string
	reqKeyLabel      string
	reqKeyID         string
	reqP12Path       string
	reqP12Password   string
	reqCAPath        string
	reqCSRPath       string
	reqOutPath       string
	reqReceiptPath   string
	reqDigest        string
	reqCipher        string
	reqNoSigningTime bool
	reqSignatureOID  string
	reqSkipCSRCheck  bool
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Build a PKCSReq message",
	Long: `Build a SCEP PKCSReq message.

The CSR is encrypted to the CA certificate (EnvelopedData) and the result
is signed with the requester key (SignedData). The message is written as
PEM with the "SCEP MESSAGE" label; an output file is only created when
the build succeeds.

The signing key can be a PEM file (--key), a PKCS#12 bundle (--p12) or
a PKCS#11 token (--hsm-config with --key-label or --key-id).
Passphrases accept "env:VAR" to read from the environment.

Examples:
  # Legacy defaults (MD5, DES-EDE3-CBC)
  qscep request --cert device.pem --key device.key --ca ca.pem --csr device.csr --out req.pem

  # Modern algorithms, PEM on stdout
  qscep request --cert device.pem --key device.key --ca ca.pem --csr device.csr \
    --digest sha256 --cipher aes128

  # Key in an HSM, with a signed receipt
  qscep request --cert device.pem --hsm-config hsm.yaml --key-label device \
    --ca ca.pem --csr device.csr --out req.pem --receipt req.receipt`,
	Args: cobra.NoArgs,
	RunE: runRequest,
}

func init() {
	flags := requestCmd.Flags()
	flags.StringVar(&reqCertPath, "cert", "", "Requester certificate (PEM)")
	flags.StringVar(&reqKeyPath, "key", "", "Requester private key (PEM)")
	flags.StringVar(&reqKeyPassphrase, "key-passphrase", "", "Private key passphrase (or env:VAR)")
	flags.StringVar(&reqHSMConfig, "hsm-config", "", "HSM configuration file (YAML)")
	flags.StringVar(&reqKeyLabel, "key-label", "", "Key label in the HSM")
	flags.StringVar(&reqKeyID, "key-id", "", "Key ID in the HSM (hex)")
	flags.StringVar(&reqP12Path, "p12", "", "PKCS#12 bundle with certificate and key")
	flags.StringVar(&reqP12Password, "p12-password", "", "PKCS#12 password (or env:VAR)")
	flags.StringVar(&reqCAPath, "ca", "", "CA certificate to encrypt to (PEM, required)")
	flags.StringVar(&reqCSRPath, "csr", "", "Certificate signing request (PEM, required)")
	flags.StringVarP(&reqOutPath, "out", "o", "", "Output file (default: stdout)")
	flags.StringVar(&reqReceiptPath, "receipt", "", "Also write a signed COSE receipt to this file")
	flags.StringVar(&reqDigest, "digest", "", "Digest algorithm (default md5)")
	flags.StringVar(&reqCipher, "cipher", "", "Content cipher (default des3)")
	flags.BoolVar(&reqNoSigningTime, "no-signing-time", false, "Omit the signingTime attribute")
	flags.StringVar(&reqSignatureOID, "signature-oid", "", "RSA signature OID: rsa or hash")
	flags.BoolVar(&reqSkipCSRCheck, "skip-csr-check", false, "Skip the CSR subject and SAN checks")

	_ = requestCmd.MarkFlagRequired("ca")
	_ = requestCmd.MarkFlagRequired("csr")
	requestCmd.MarkFlagsMutuallyExclusive("key", "p12", "hsm-config")
	requestCmd.MarkFlagsMutuallyExclusive("key-label", "key-id")
}

func runRequest(cmd *cobra.Command, args []string) error {
	reg := cms.NewRegistry()
	cfg, err := loadConfig(reg)
	if err != nil {
		return err
	}
	if err := applyRequestFlags(cmd, cfg, reg); err != nil {
		return err
	}
	warnLegacyDefaults(cfg.Defaults.Digest, cfg.Defaults.Cipher, reg)

	builder, err := scep.NewBuilder(reg, cfg.BuilderOptions()...)
	if err != nil {
		return err
	}
	info := audit.RequestInfo{
		Digest: builder.Digest().Name,
		Cipher: builder.Cipher().Name,
		Output: reqOutPath,
	}

	req, err := loadRequest()
	if err != nil {
		return failRequest(info, err)
	}
	info.Subject = req.CSR.Subject.String()
	info.SignerSerial = req.Identity.Certificate.SerialNumber.String()
	info.Recipient = req.Recipients[0].Subject.String()

	msg, err := builder.Build(cmd.Context(), req)
	if err != nil {
		return failRequest(info, err)
	}
	info.TransactionID = msg.TransactionID

	pemData, err := msg.PEM()
	if err != nil {
		return failRequest(info, err)
	}

	var receiptData []byte
	if reqReceiptPath != "" {
		r := receipt.New(msg, req, time.Now())
		receiptData, err = receipt.Sign(r, req.Identity.Signer, req.Identity.Certificate, rand.Reader)
		if err != nil {
			return failRequest(info, fmt.Errorf("failed to sign receipt: %w", err))
		}
	}

	// The receipt goes first so a failed run leaves no message behind.
	if receiptData != nil {
		if err := writeFileAtomic(reqReceiptPath, receiptData, 0644); err != nil {
			return failRequest(info, scep.NewError(scep.ErrIO, "write receipt", err))
		}
	}
	toStdout := reqOutPath == "" || reqOutPath == "-"
	if err := writeMessage(pemData, toStdout); err != nil {
		if receiptData != nil {
			_ = os.Remove(reqReceiptPath)
		}
		return failRequest(info, scep.NewError(scep.ErrIO, "write message", err))
	}

	if err := audit.LogRequestBuilt(info); err != nil {
		return err
	}

	// Keep stdout clean when it carries the message.
	summary := os.Stdout
	if toStdout {
		summary = os.Stderr
	}
	fmt.Fprintf(summary, "PKCSReq built successfully\n")
	fmt.Fprintf(summary, "  Transaction ID: %s\n", msg.TransactionID)
	fmt.Fprintf(summary, "  Subject:        %s\n", info.Subject)
	fmt.Fprintf(summary, "  Digest:         %s\n", msg.Digest)
	fmt.Fprintf(summary, "  Cipher:         %s\n", msg.Cipher)
	if !toStdout {
		fmt.Fprintf(summary, "  Output:         %s\n", reqOutPath)
	}
	if reqReceiptPath != "" {
		fmt.Fprintf(summary, "  Receipt:        %s\n", reqReceiptPath)
	}
	return nil
}

// applyRequestFlags overlays explicitly set flags on the loaded config.
func applyRequestFlags(cmd *cobra.Command, cfg *config.Config, reg *cms.Registry) error {
	flags := cmd.Flags()
	if flags.Changed("digest") {
		cfg.Defaults.Digest = reqDigest
	}
	if flags.Changed("cipher") {
		cfg.Defaults.Cipher = reqCipher
	}
	if reqNoSigningTime {
		cfg.Defaults.SigningTime = false
	}
	if flags.Changed("signature-oid") {
		cfg.Defaults.SignatureOID = reqSignatureOID
	}
	if reqSkipCSRCheck {
		cfg.CSRCheck.Enabled = false
	}
	return cfg.Validate(reg)
}

func loadRequest() (*scep.Request, error) {
	id, err := loadRequestIdentity()
	if err != nil {
		return nil, err
	}

	caCert, err := loadCertificate(reqCAPath)
	if err != nil {
		return nil, err
	}

	csrPEM, err := scep.ReadFile(reqCSRPath)
	if err != nil {
		return nil, err
	}
	csr, err := scep.ParseCSRPEM(csrPEM)
	if err != nil {
		return nil, err
	}

	return &scep.Request{
		Identity:   id,
		Recipients: []*x509.Certificate{caCert},
		CSR:        csr,
	}, nil
}

func loadRequestIdentity() (scep.Identity, error) {
	if reqP12Path != "" {
		data, err := scep.ReadFile(reqP12Path)
		if err != nil {
			return scep.Identity{}, err
		}
		id, err := scep.LoadIdentityPKCS12(data, reqP12Password)
		if logErr := audit.LogKeyAccessed(reqP12Path, err); logErr != nil {
			return scep.Identity{}, logErr
		}
		return id, err
	}

	if reqCertPath == "" {
		return scep.Identity{}, scep.NewError(scep.ErrInput, "load identity",
			errors.New("--cert is required unless --p12 is given"))
	}
	src := crypto.KeySource{
		Path:       reqKeyPath,
		Passphrase: reqKeyPassphrase,
		HSMConfig:  reqHSMConfig,
		KeyLabel:   reqKeyLabel,
		KeyID:      reqKeyID,
	}
	if !src.IsHSM() && src.Path == "" {
		return scep.Identity{}, scep.NewError(scep.ErrInput, "load identity",
			errors.New("one of --key, --p12 or --hsm-config is required"))
	}
	id, err := scep.OpenIdentity(reqCertPath, src)
	if logErr := audit.LogKeyAccessed(src.Describe(), err); logErr != nil {
		return scep.Identity{}, logErr
	}
	return id, err
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := scep.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return scep.ParseCertificatePEM(data)
}

func failRequest(info audit.RequestInfo, cause error) error {
	if err := audit.LogRequestFailed(info, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// warnLegacyDefaults logs a warning when both MD5 and DES-EDE3-CBC are
// selected.
func warnLegacyDefaults(digest, cipher string, reg *cms.Registry) {
	d := config.Defaults{Digest: digest, Cipher: cipher}
	if d.UsesLegacyDefaults(reg) {
		log.Printf("WARNING: using legacy algorithms md5 and des-ede3-cbc; pass --digest sha256 --cipher aes128 if the server supports them")
	}
}

func writeMessage(pemData []byte, toStdout bool) error {
	if toStdout {
		_, err := os.Stdout.Write(pemData)
		return err
	}
	return writeFileAtomic(reqOutPath, pemData, 0644)
}

// writeFileAtomic writes data to a temp file and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

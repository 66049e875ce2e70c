package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/audit"
	"github.com/remiblancher/qscep/internal/cms"
	"github.com/remiblancher/qscep/internal/crypto"
	"github.com/remiblancher/qscep/internal/scep"
	"github.com/remiblancher/qscep/internal/x509util"
)

var (
	inspectDecryptKey  string
	inspectDecryptCert string
	inspectPassphrase  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decode and verify a PKCSReq message",
	Long: `Decode a pkiMessage (PEM or DER), print its attributes and verify its
signature against the embedded signer certificate.

With --decrypt-key and --decrypt-cert (the CA's key and certificate) the
envelope is opened and the enclosed CSR is shown.

The command fails when the signature does not verify.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDecryptKey, "decrypt-key", "", "Recipient private key (PEM)")
	inspectCmd.Flags().StringVar(&inspectDecryptCert, "decrypt-cert", "", "Recipient certificate (PEM)")
	inspectCmd.Flags().StringVar(&inspectPassphrase, "passphrase", "", "Recipient key passphrase (or env:VAR)")
	inspectCmd.MarkFlagsRequiredTogether("decrypt-key", "decrypt-cert")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := scep.ReadFile(path)
	if err != nil {
		return err
	}
	der, err := scep.DecodePEM(data)
	if err != nil {
		return err
	}

	reg := cms.NewRegistry()
	info, err := scep.Inspect(der, reg)
	if err != nil {
		return err
	}
	if err := audit.LogInspect(path, info.TransactionID, info.SignatureValid()); err != nil {
		return err
	}

	fmt.Printf("SCEP Message: %s\n", path)
	fmt.Printf("  Message type:    %s\n", messageTypeName(info.MessageType))
	if info.PKIStatus != "" {
		fmt.Printf("  PKI status:      %s\n", info.PKIStatus)
	}
	fmt.Printf("  Transaction ID:  %s\n", info.TransactionID)
	fmt.Printf("  Sender nonce:    %s\n", hex.EncodeToString(info.SenderNonce))
	fmt.Printf("  Recipient nonce: %s\n", hex.EncodeToString(info.RecipientNonce))
	if !info.SigningTime.IsZero() {
		fmt.Printf("  Signing time:    %s\n", info.SigningTime.UTC().Format(time.RFC3339))
	}
	fmt.Printf("  Digest:          %s\n", info.Digest)
	fmt.Printf("  Signature alg:   %s\n", x509util.SignatureAlgorithmName(info.SignatureAlgorithm))
	fmt.Printf("  Cipher:          %s\n", info.Cipher)
	if c := info.Signer; c != nil {
		fmt.Printf("\nSigner:\n")
		fmt.Printf("  Subject: %s\n", c.Subject)
		fmt.Printf("  Issuer:  %s\n", c.Issuer)
		fmt.Printf("  Serial:  %s\n", c.SerialNumber)
		fmt.Printf("  Key:     %s\n", x509util.DescribeKey(c))
	}
	fmt.Printf("\nRecipients:\n")
	for _, r := range info.Recipients {
		fmt.Printf("  - %s (serial %s)\n", r.Issuer, r.Serial)
	}

	fmt.Println()
	if !info.SignatureValid() {
		fmt.Printf("Signature: INVALID (%v)\n", info.SignatureError)
		return fmt.Errorf("signature verification failed: %w", info.SignatureError)
	}
	fmt.Printf("Signature: VALID\n")

	if inspectDecryptKey == "" {
		return nil
	}
	return printDecryptedCSR(info, reg)
}

func printDecryptedCSR(info *scep.MessageInfo, reg *cms.Registry) error {
	cert, err := loadCertificate(inspectDecryptCert)
	if err != nil {
		return err
	}
	signer, err := crypto.LoadPrivateKey(inspectDecryptKey, crypto.ResolvePassphrase(inspectPassphrase))
	if logErr := audit.LogKeyAccessed(inspectDecryptKey, err); logErr != nil {
		return errors.Join(err, logErr)
	}
	if err != nil {
		return scep.NewError(scep.ErrInput, "load decryption key", err)
	}

	csr, err := info.DecryptCSR(signer.PrivateKey(), cert, reg)
	if err != nil {
		return err
	}

	fmt.Printf("\nCertificate Request:\n")
	fmt.Printf("  Subject:       %s\n", csr.Subject)
	for _, name := range csr.DNSNames {
		fmt.Printf("  DNS:           %s\n", name)
	}
	for _, ip := range csr.IPAddresses {
		fmt.Printf("  IP:            %s\n", ip)
	}
	for _, email := range csr.EmailAddresses {
		fmt.Printf("  Email:         %s\n", email)
	}
	fmt.Printf("  Signature alg: %s\n", csr.SignatureAlgorithm)
	return nil
}

func messageTypeName(t scep.MessageType) string {
	if t == scep.MessageTypePKCSReq {
		return fmt.Sprintf("PKCSReq (%s)", t)
	}
	return string(t)
}

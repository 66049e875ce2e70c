package main

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/audit"
	"github.com/remiblancher/qscep/internal/receipt"
	"github.com/remiblancher/qscep/internal/scep"
)

var (
	receiptCertPath    string
	receiptMessagePath string
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Work with signed build receipts",
	Long: `Receipts are COSE_Sign1 documents written by "qscep request --receipt".
They record the transaction ID, nonces, algorithms and a SHA-256 of the
message, signed with the requester key.`,
}

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify a receipt signature",
	Long: `Verify a receipt against the requester certificate.

Without --cert the certificate embedded in the receipt is used, which
only proves the receipt is self-consistent. With --message the receipt
must also match that message.

Examples:
  qscep receipt verify req.receipt --cert device.pem --message req.pem`,
	Args: cobra.ExactArgs(1),
	RunE: runReceiptVerify,
}

var receiptShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a receipt without verifying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReceiptShow,
}

func init() {
	receiptVerifyCmd.Flags().StringVar(&receiptCertPath, "cert", "", "Requester certificate (PEM)")
	receiptVerifyCmd.Flags().StringVar(&receiptMessagePath, "message", "", "Message the receipt should match (PEM or DER)")

	receiptCmd.AddCommand(receiptVerifyCmd)
	receiptCmd.AddCommand(receiptShowCmd)
}

func runReceiptVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := scep.ReadFile(path)
	if err != nil {
		return err
	}

	var cert *x509.Certificate
	if receiptCertPath != "" {
		if cert, err = loadCertificate(receiptCertPath); err != nil {
			return err
		}
	}

	signed, err := verifyReceipt(data, cert)
	txID := ""
	if signed != nil {
		txID = signed.Receipt.TransactionID
	}
	if logErr := audit.LogReceiptVerify(path, txID, err); logErr != nil {
		return logErr
	}

	fmt.Printf("Verifying receipt: %s\n\n", path)
	if err != nil {
		fmt.Printf("VERIFICATION FAILED\n")
		fmt.Printf("  Error: %s\n", err)
		return fmt.Errorf("receipt verification failed: %w", err)
	}

	fmt.Printf("VERIFICATION PASSED\n")
	fmt.Printf("  Transaction ID: %s\n", signed.Receipt.TransactionID)
	fmt.Printf("  Algorithm:      %s\n", signed.Algorithm)
	if cert == nil {
		fmt.Printf("  Certificate:    embedded\n")
	}
	if receiptMessagePath != "" {
		fmt.Printf("  Message:        MATCHES %s\n", receiptMessagePath)
	}
	return nil
}

func verifyReceipt(data []byte, cert *x509.Certificate) (*receipt.Signed, error) {
	signed, err := receipt.Verify(data, cert)
	if err != nil {
		return nil, err
	}
	if cert != nil && !signed.Receipt.IssuedBy(cert) {
		return signed, fmt.Errorf("receipt names signer serial %s, certificate has %s",
			signed.Receipt.SignerSerial, cert.SerialNumber)
	}
	if receiptMessagePath != "" {
		msgData, err := scep.ReadFile(receiptMessagePath)
		if err != nil {
			return signed, err
		}
		der, err := scep.DecodePEM(msgData)
		if err != nil {
			return signed, err
		}
		if !signed.Receipt.Matches(der) {
			return signed, fmt.Errorf("receipt does not match %s", receiptMessagePath)
		}
	}
	return signed, nil
}

func runReceiptShow(cmd *cobra.Command, args []string) error {
	data, err := scep.ReadFile(args[0])
	if err != nil {
		return err
	}
	signed, err := receipt.Parse(data)
	if err != nil {
		return err
	}
	r := signed.Receipt

	fmt.Printf("Receipt: %s\n", args[0])
	fmt.Printf("  Version:         %d\n", r.Version)
	fmt.Printf("  Transaction ID:  %s\n", r.TransactionID)
	fmt.Printf("  Message type:    %s\n", messageTypeName(scep.MessageType(r.MessageType)))
	fmt.Printf("  Sender nonce:    %s\n", hex.EncodeToString(r.SenderNonce))
	fmt.Printf("  Recipient nonce: %s\n", hex.EncodeToString(r.RecipientNonce))
	fmt.Printf("  Digest:          %s\n", r.Digest)
	fmt.Printf("  Cipher:          %s\n", r.Cipher)
	fmt.Printf("  Signer:          %s (serial %s)\n", r.SignerSubject, r.SignerSerial)
	fmt.Printf("  Signer issuer:   %s\n", r.SignerIssuer)
	if r.CASubject != "" {
		fmt.Printf("  CA:              %s\n", r.CASubject)
	}
	fmt.Printf("  CSR subject:     %s\n", r.CSRSubject)
	fmt.Printf("  Message SHA-256: %s\n", hex.EncodeToString(r.MessageSHA256))
	fmt.Printf("  Created:         %s\n", r.Created().Format(time.RFC3339))
	fmt.Printf("  Algorithm:       %s\n", signed.Algorithm)
	fmt.Printf("\nSignature: not verified (use \"qscep receipt verify\")\n")
	return nil
}

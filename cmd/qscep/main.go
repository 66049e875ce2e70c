// Command qscep builds SCEP PKCSReq enrollment messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/audit"
	"github.com/remiblancher/qscep/internal/cms"
	"github.com/remiblancher/qscep/internal/config"
	"github.com/remiblancher/qscep/internal/crypto"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	auditLogPath string
	configPath   string
)

func main() {
	setupSignalHandler()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		crypto.CloseAllPools()
		os.Exit(1)
	}
	crypto.CloseAllPools()
}

// setupSignalHandler releases PKCS#11 sessions before exiting on
// SIGINT/SIGTERM. The serve command installs its own handling.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		crypto.CloseAllPools()
		os.Exit(1)
	}()
}

var rootCmd = &cobra.Command{
	Use:   "qscep",
	Short: "Build SCEP PKCSReq enrollment messages",
	Long: `qscep builds SCEP (RFC 8894) PKCSReq messages: a PKCS#10 request encrypted
to the CA certificate, signed with the requester's key and wrapped in
PKCS#7 SignedData, ready to POST to a SCEP server.

The defaults are MD5 and DES-EDE3-CBC because most deployed SCEP servers
still expect them. Use --digest sha256 --cipher aes128 when the server
supports it.

Examples:
  # Build a request and write it as PEM
  qscep request --cert device.pem --key device.key --ca ca.pem --csr device.csr --out req.pem

  # Inspect a request and decrypt the CSR with the CA key
  qscep inspect req.pem --decrypt-key ca.key --decrypt-cert ca.pem

  # Run the HTTP build service
  qscep serve --port 8080`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogPath == "" {
			auditLogPath = os.Getenv("QSCEP_AUDIT_LOG")
		}
		if configPath == "" {
			configPath = os.Getenv("QSCEP_CONFIG")
		}
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set QSCEP_AUDIT_LOG env var)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (or set QSCEP_CONFIG env var)")

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config over the built-in defaults.
func loadConfig(reg *cms.Registry) (*config.Config, error) {
	cfg, err := config.Load(configPath, reg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("qscep %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

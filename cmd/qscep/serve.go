package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qscep/internal/api/server"
	"github.com/remiblancher/qscep/internal/api/service"
	"github.com/remiblancher/qscep/internal/cms"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP build service",
	Long: `Start an HTTP service that builds and inspects PKCSReq messages.

Clients POST PEM material as JSON; the service never stores keys.
Algorithm defaults and the CSR check come from --config.

Environment variables:
  QSCEP_PORT      Port to listen on
  QSCEP_HOST      Host to bind to
  QSCEP_TLS_CERT  TLS certificate file
  QSCEP_TLS_KEY   TLS private key file

Examples:
  qscep serve --port 8080
  qscep serve --port 8443 --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config: 8080)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()

	reg := cms.NewRegistry()
	cfg, err := loadConfig(reg)
	if err != nil {
		return err
	}
	warnLegacyDefaults(cfg.Defaults.Digest, cfg.Defaults.Cipher, reg)

	svc, err := service.NewSCEPService(reg, cfg.BuilderOptions()...)
	if err != nil {
		return err
	}

	srvCfg := server.FromSettings(cfg.Server)
	if servePort != 0 {
		srvCfg.Port = servePort
	}
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	srvCfg.TLSCert = serveTLSCert
	srvCfg.TLSKey = serveTLSKey
	if (serveTLSCert == "") != (serveTLSKey == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be given together")
	}

	return server.New(srvCfg, version, svc).Start()
}

func applyServeEnvVars() {
	if servePort == 0 {
		if v := os.Getenv("QSCEP_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				servePort = p
			}
		}
	}
	if serveHost == "" {
		serveHost = os.Getenv("QSCEP_HOST")
	}
	if serveTLSCert == "" {
		serveTLSCert = os.Getenv("QSCEP_TLS_CERT")
	}
	if serveTLSKey == "" {
		serveTLSKey = os.Getenv("QSCEP_TLS_KEY")
	}
}

// Package server runs the REST API HTTP server.
package server

import (
	"fmt"
	"time"

	"github.com/remiblancher/qscep/internal/config"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port int

	// TLS is enabled when both are set.
	TLSCert string
	TLSKey  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DefaultConfig returns the server section of config.Default.
func DefaultConfig() *Config {
	return FromSettings(config.Default().Server)
}

// FromSettings converts the file configuration.
func FromSettings(s config.Server) *Config {
	return &Config{
		Host:            s.Host,
		Port:            s.Port,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		MaxBodyBytes:    s.MaxBodyBytes,
	}
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLSEnabled reports whether a certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

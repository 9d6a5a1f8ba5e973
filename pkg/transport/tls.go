package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds TLS settings for hub connections.
type TLSConfig struct {
	// Certificate is the device certificate for X.509 authentication.
	// Nil when the device authenticates with a token header.
	Certificate *tls.Certificate

	// RootCAs is the pool of trusted CA certificates. Nil uses the system pool.
	RootCAs *x509.CertPool

	// ServerName overrides the name used for verification and SNI.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing against self-signed hubs.
	InsecureSkipVerify bool
}

// NewClientTLSConfig creates the TLS configuration for hub connections.
// A nil cfg yields the defaults.
func NewClientTLSConfig(cfg *TLSConfig) *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if cfg == nil {
		return tlsConfig
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	tlsConfig.RootCAs = cfg.RootCAs
	tlsConfig.ServerName = cfg.ServerName
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	return tlsConfig
}

// LoadTLSConfig builds a TLSConfig from PEM files. Empty paths are skipped.
func LoadTLSConfig(certFile, keyFile, caFile string) (*TLSConfig, error) {
	cfg := &TLSConfig{}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load device certificate: %w", err)
		}
		cfg.Certificate = &cert
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

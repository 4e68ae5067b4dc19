package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// EngineTLS builds a *tls.Config for the filtering engine connection.
// Returns nil, nil if no TLS material is configured.
func (c *Config) EngineTLS() (*tls.Config, error) {
	if c.AdGuardTLSCert == "" && c.AdGuardTLSKey == "" && c.AdGuardTLSCACert == "" && c.AdGuardTLSServerName == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.AdGuardTLSCert != "" || c.AdGuardTLSKey != "" {
		cert, err := tls.LoadX509KeyPair(c.AdGuardTLSCert, c.AdGuardTLSKey)
		if err != nil {
			return nil, fmt.Errorf("load engine client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.AdGuardTLSCACert != "" {
		caPEM, err := os.ReadFile(c.AdGuardTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read engine CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse engine CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	if c.AdGuardTLSServerName != "" {
		tlsConfig.ServerName = c.AdGuardTLSServerName
	}

	return tlsConfig, nil
}

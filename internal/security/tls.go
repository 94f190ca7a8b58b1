package security

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
)

// TLSConfig holds the on-disk locations of the gateway's certificate
// material in selfsigned mode.
type TLSConfig struct {
	CACertPath string
	CertPath   string
	KeyPath    string
}

// TLSMode describes how the gateway should handle TLS.
type TLSMode int

const (
	// TLSModeOff disables TLS entirely (development only).
	TLSModeOff TLSMode = iota
	// TLSModeSelfSigned uses an auto-generated CA and gateway certificate.
	TLSModeSelfSigned
	// TLSModeACME uses Let's Encrypt automatic certificate management.
	TLSModeACME
	// TLSModeCustom uses operator-provided certificate and key files.
	TLSModeCustom
)

// ParseTLSMode maps a configuration string onto a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "off":
		return TLSModeOff, nil
	case "selfsigned":
		return TLSModeSelfSigned, nil
	case "acme":
		return TLSModeACME, nil
	case "custom":
		return TLSModeCustom, nil
	}
	return TLSModeOff, fmt.Errorf("unknown TLS mode %q", s)
}

// LoadOrGenerateTLS returns a TLS 1.3 server config backed by the
// self-signed material under dataDir, minting a fresh CA and gateway
// certificate when any file is missing or the certificate is near
// expiry. Consumers fetch the CA over the management API to trust
// the gateway.
func LoadOrGenerateTLS(dataDir string) (*tls.Config, *TLSConfig, error) {
	paths := &TLSConfig{
		CACertPath: filepath.Join(dataDir, "ca.crt"),
		CertPath:   filepath.Join(dataDir, "gateway.crt"),
		KeyPath:    filepath.Join(dataDir, "gateway.key.pem"),
	}

	if paths.staleOrMissing() {
		if err := mintCertificates(paths); err != nil {
			return nil, nil, fmt.Errorf("generate TLS certs: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, paths, nil
}

// LoadCustomTLS serves operator-provided certificate files. The floor
// is TLS 1.2 here; custom certs tend to front older reverse proxies.
func LoadCustomTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("custom TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ReadCACert returns the PEM-encoded CA certificate.
func ReadCACert(paths *TLSConfig) ([]byte, error) {
	return os.ReadFile(paths.CACertPath)
}

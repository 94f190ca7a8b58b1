package security

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// NewACMEManager configures Let's Encrypt issuance for the given
// domains, caching certificates under dataDir. The returned manager's
// HTTPHandler must be reachable on port 80 for HTTP-01 challenges.
func NewACMEManager(dataDir string, domains []string) (*autocert.Manager, *tls.Config, error) {
	if len(domains) == 0 {
		return nil, nil, fmt.Errorf("acme: no domains configured")
	}
	cache := filepath.Join(dataDir, "acme")
	if err := os.MkdirAll(cache, 0700); err != nil {
		return nil, nil, fmt.Errorf("acme cache: %w", err)
	}

	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cache),
	}
	cfg := mgr.TLSConfig()
	cfg.MinVersion = tls.VersionTLS13
	return mgr, cfg, nil
}

package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	caValidity   = 5 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour

	// renewBefore forces a re-mint at startup when the gateway
	// certificate is this close to expiry.
	renewBefore = 30 * 24 * time.Hour
)

// staleOrMissing reports whether the certificate material must be
// (re)generated: a file absent or unreadable, or the gateway
// certificate inside the renewal window.
func (p *TLSConfig) staleOrMissing() bool {
	for _, path := range []string{p.CACertPath, p.CertPath, p.KeyPath} {
		if _, err := os.Stat(path); err != nil {
			return true
		}
	}
	raw, err := os.ReadFile(p.CertPath)
	if err != nil {
		return true
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return true
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return true
	}
	return time.Now().Add(renewBefore).After(leaf.NotAfter)
}

// mintCertificates writes a fresh CA certificate plus a gateway
// certificate signed by it. The CA key never touches disk, so a
// renewal mints a new CA as well.
func mintCertificates(paths *TLSConfig) error {
	now := time.Now()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	caSerial, err := randomSerial()
	if err != nil {
		return err
	}
	caTmpl := &x509.Certificate{
		SerialNumber: caSerial,
		Subject: pkix.Name{
			Organization: []string{"Viewport"},
			CommonName:   "Viewport Gateway CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return err
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	leafSerial, err := randomSerial()
	if err != nil {
		return err
	}
	names, addrs := localEndpoints()
	leafTmpl := &x509.Certificate{
		SerialNumber: leafSerial,
		Subject: pkix.Name{
			Organization: []string{"Viewport"},
			CommonName:   "viewport-gateway",
		},
		DNSNames:    names,
		IPAddresses: addrs,
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	if err != nil {
		return err
	}

	if err := writePEM(paths.CACertPath, "CERTIFICATE", caDER); err != nil {
		return err
	}
	if err := writePEM(paths.CertPath, "CERTIFICATE", leafDER); err != nil {
		return err
	}
	return writePEM(paths.KeyPath, "PRIVATE KEY", keyDER)
}

// localEndpoints lists the names and addresses the gateway certificate
// covers: loopback, the machine hostname, and every non-loopback
// interface address, so LAN consumers can verify the gateway.
func localEndpoints() ([]string, []net.IP) {
	names := []string{"localhost"}
	if host, err := os.Hostname(); err == nil && host != "" {
		names = append(names, host)
	}

	addrs := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return names, addrs
	}
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		addrs = append(addrs, ipNet.IP)
	}
	return names, addrs
}

func writePEM(path, kind string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: kind, Bytes: der}); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

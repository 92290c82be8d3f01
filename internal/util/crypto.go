package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// certLifetime is the validity of generated certificates. A pair that
// expires within certRenewBefore is regenerated.
const (
	certLifetime    = 365 * 24 * time.Hour
	certRenewBefore = 7 * 24 * time.Hour
)

// EnsureCertificate generates a self-signed pair when either file is
// missing or the certificate is about to expire. hosts are added to the
// certificate as IP or DNS names next to localhost. It reports whether it
// wrote new files.
func EnsureCertificate(certFile, keyFile string, hosts ...string) (bool, error) {
	if FileExists(certFile) && FileExists(keyFile) {
		notAfter, err := certificateExpiry(certFile)
		if err == nil && time.Until(notAfter) > certRenewBefore {
			return false, nil
		}
		log.Warn().Err(err).Time("not_after", notAfter).Msg("API certificate unusable, regenerating")
	}
	if err := GenerateSelfSignedCert(certFile, keyFile, hosts...); err != nil {
		return false, err
	}
	return true, nil
}

func certificateExpiry(certFile string) (time.Time, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, fmt.Errorf("no certificate in %s", certFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}

// GenerateSelfSignedCert creates a self-signed ECDSA certificate and key
// for the admin API.
func GenerateSelfSignedCert(certFile, keyFile string, hosts ...string) error {
	for _, f := range []string{certFile, keyFile} {
		if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f, err)
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{AppName},
			CommonName:   AppName + "-local",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certLifetime),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if h == "" || h == "0.0.0.0" || h == "::" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", certDER, 0644); err != nil {
		return err
	}
	if err := writePEM(keyFile, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return err
	}

	log.Info().
		Str("cert", certFile).
		Str("key", keyFile).
		Strs("hosts", hosts).
		Time("not_after", template.NotAfter).
		Msg("self-signed TLS certificate generated")
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

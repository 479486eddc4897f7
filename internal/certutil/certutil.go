// Package certutil provides the TLS certificate for the monitor server,
// generating a self-signed one on first use.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// SaveError indicates that a certificate was successfully generated and is
// ready for use in memory, but could not be saved to disk.
type SaveError struct {
	// Err is the underlying file system error that occurred during saving.
	Err error
}

func (e *SaveError) Error() string {
	return e.Err.Error()
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// LoadOrGenerate loads the certificate and key at certPath and keyPath. If
// neither file exists, a self-signed certificate is generated and saved to
// those paths. A *SaveError means the returned certificate is usable but was
// not persisted.
func LoadOrGenerate(certPath, keyPath string) (tls.Certificate, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if errors.Is(certErr, fs.ErrNotExist) && errors.Is(keyErr, fs.ErrNotExist) {
		return GenerateSelfSigned(certPath, keyPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't load key pair: %w", err)
	}
	return cert, nil
}

// GenerateSelfSigned creates a self-signed certificate and private key valid
// for localhost and this host's name. If paths are provided, it attempts to
// save them to disk.
func GenerateSelfSigned(certPath, keyPath string) (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't generate key: %w", err)
	}

	// Set the certificate validity period to 10 years.
	notBefore := time.Now()
	notAfter := notBefore.AddDate(10, 0, 0)

	// Generate a random 128-bit serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't generate serial number: %w", err)
	}

	dnsNames := []string{"localhost"}
	if hostname, err := os.Hostname(); err == nil && hostname != "localhost" {
		dnsNames = append(dnsNames, hostname)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"sshlure"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't encode key: %w", err)
	}

	certPEM := &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}
	keyPEM := &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}

	cert, err := tls.X509KeyPair(pem.EncodeToMemory(certPEM), pem.EncodeToMemory(keyPEM))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("couldn't parse key pair: %w", err)
	}

	// Attempt to save to disk. Return the valid in-memory certificate/key and
	// a SaveError if writing fails.
	if certPath != "" && keyPath != "" {
		if saveErr := writeCertAndKey(certPEM, keyPEM, certPath, keyPath); saveErr != nil {
			return cert, &SaveError{Err: saveErr}
		}
	}

	return cert, nil
}

// writeCertAndKey saves a PEM-encoded certificate and private key to disk.
func writeCertAndKey(cert *pem.Block, key *pem.Block, certPath string, keyPath string) error {
	if err := ensureDir(certPath); err != nil {
		return err
	}
	if err := ensureDir(keyPath); err != nil {
		return err
	}

	if err := writePEM(certPath, cert, 0644); err != nil {
		return err
	}
	// Limit key access to the owner only.
	return writePEM(keyPath, key, 0600)
}

func writePEM(path string, block *pem.Block, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(file, block); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ensureDir creates any necessary parent directories for the given path if
// they don't already exist.
func ensureDir(path string) error {
	d := filepath.Dir(path)
	if d != "." {
		return os.MkdirAll(d, 0755)
	}
	return nil
}

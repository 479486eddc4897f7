package certutil

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateCreatesAndReuses(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls", "monitor.crt")
	keyPath := filepath.Join(dir, "tls", "monitor.key")

	first, err := LoadOrGenerate(certPath, keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, first.Certificate)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrGenerate(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0], "existing certificate should be loaded, not regenerated")

	leaf, err := x509.ParseCertificate(second.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	require.NoError(t, leaf.VerifyHostname("127.0.0.1"))
}

func TestLoadOrGenerateHalfPresent(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "monitor.crt")
	require.NoError(t, os.WriteFile(certPath, []byte("not a cert"), 0644))

	_, err := LoadOrGenerate(certPath, filepath.Join(dir, "monitor.key"))
	assert.Error(t, err)
}

func TestGenerateSelfSignedSaveError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// The parent "directory" is a regular file, so saving fails.
	cert, err := GenerateSelfSigned(filepath.Join(blocker, "c.crt"), filepath.Join(blocker, "c.key"))
	var saveErr *SaveError
	require.True(t, errors.As(err, &saveErr))
	assert.NotEmpty(t, cert.Certificate, "certificate is still usable in memory")
}

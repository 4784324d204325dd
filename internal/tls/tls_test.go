package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/harness/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(nil)
	require.NoError(t, err)
	assert.Nil(t, c)
	c, err = Setup(&config.TLSConfig{Enabled: false, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(&config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MaxVersion)

	for _, f := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(dir, f))
		require.NoError(t, err, f)
	}
	st, err := os.Stat(filepath.Join(dir, tlsKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "localhost", leaf.Subject.CommonName)
	assert.Contains(t, leaf.DNSNames, "localhost")
}

func TestSetupReusesExistingPair(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "pinned", Organization: "x", NotAfter: timeInAYear(),
		CertPath: filepath.Join(dir, tlsCrt), KeyPath: filepath.Join(dir, tlsKey),
	}))
	c, err := Setup(&config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	cert, err := c.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "pinned", leaf.Subject.CommonName)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	crt, key := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	require.NoError(t, GenerateSelfSignedCert(CertConfig{CommonName: "a", NotAfter: timeInAYear(), CertPath: crt, KeyPath: key}))
	c, err := Setup(&config.TLSConfig{Enabled: true, CertFile: crt, KeyFile: key})
	require.NoError(t, err)
	assert.NotNil(t, c.GetCertificate)
}

func TestSetupErrors(t *testing.T) {
	_, err := Setup(&config.TLSConfig{Enabled: true})
	assert.Error(t, err)

	// dir without certificates and no auto generation
	_, err = Setup(&config.TLSConfig{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	cases := map[string]struct {
		v  uint16
		ok bool
	}{
		"":       {tls.VersionTLS13, false},
		"1.2":    {tls.VersionTLS12, true},
		"TLS1.2": {tls.VersionTLS12, true},
		"tls1.3": {tls.VersionTLS13, true},
		"1.1":    {0, false},
	}
	for in, want := range cases {
		v, ok := ParseVersion(in)
		assert.Equal(t, want.v, v, in)
		assert.Equal(t, want.ok, ok, in)
	}
}

func TestSafeReadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	b, err := safeReadFile(dir, p)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
	_, err = safeReadFile(dir, filepath.Join(dir, "..", "outside"))
	assert.Error(t, err)
}

func timeInAYear() time.Time { return time.Now().AddDate(1, 0, 0) }

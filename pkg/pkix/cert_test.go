package pkix_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	gopkix "crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tnscm/tnscm/pkg/pkix"
)

func newTestCertificate(t *testing.T, commonName string) (*rsa.PrivateKey, []byte) {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: gopkix.Name{
			Organization: []string{"Home Lab"},
			CommonName:   commonName,
		},
		KeyUsage:  x509.KeyUsageDigitalSignature,
		NotBefore: time.Now(),
		NotAfter:  time.Now().AddDate(1, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	require.NoError(t, err)

	return privKey, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestParseCertificate(t *testing.T) {
	_, leafPEM := newTestCertificate(t, "leaf")
	_, issuerPEM := newTestCertificate(t, "issuer")

	certs, err := pkix.ParseCertificate(leafPEM)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	require.Equal(t, "leaf", certs[0].Subject.CommonName)

	chain := append(append([]byte{}, leafPEM...), issuerPEM...)
	certs, err = pkix.ParseCertificate(chain)
	require.NoError(t, err)
	require.Len(t, certs, 2)
	require.Equal(t, "leaf", certs[0].Subject.CommonName)
	require.Equal(t, "issuer", certs[1].Subject.CommonName)

	_, err = pkix.ParseCertificate([]byte("not pem at all"))
	require.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	privKey, _ := newTestCertificate(t, "leaf")

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)})
	parsed, err := pkix.ParsePrivateKey(pkcs1)
	require.NoError(t, err)
	require.IsType(t, &rsa.PrivateKey{}, parsed)

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes})
	parsed, err = pkix.ParsePrivateKey(pkcs8)
	require.NoError(t, err)
	require.IsType(t, &rsa.PrivateKey{}, parsed)

	_, err = pkix.ParsePrivateKey([]byte("garbage"))
	require.Error(t, err)
}

func TestParseCertificateRequest(t *testing.T) {
	privKey, _ := newTestCertificate(t, "leaf")

	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: gopkix.Name{CommonName: "leaf"},
	}, privKey)
	require.NoError(t, err)
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})

	csr, err := pkix.ParseCertificateRequest(csrPEM)
	require.NoError(t, err)
	require.Equal(t, "leaf", csr.Subject.CommonName)

	_, err = pkix.ParseCertificateRequest([]byte("garbage"))
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	_, certPEM := newTestCertificate(t, "leaf")
	certs, err := pkix.ParseCertificate(certPEM)
	require.NoError(t, err)

	sum := sha1.Sum(certs[0].Raw)
	require.Equal(t, hex.EncodeToString(sum[:]), pkix.Fingerprint(&certs[0]))
}

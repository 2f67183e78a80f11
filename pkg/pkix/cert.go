package pkix

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
)

// ParseCertificate parses a PEM blob that may hold a chain. The first
// certificate is the leaf, the rest are intermediates.
func ParseCertificate(certRaw []byte) ([]x509.Certificate, error) {
	certs := make([]x509.Certificate, 0, 4)
	for {
		pemBlock, remains := pem.Decode(certRaw)
		if pemBlock == nil {
			return nil, errors.New("invalid certificate")
		}

		cert, err := x509.ParseCertificate(pemBlock.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, *cert)

		if len(remains) == 0 {
			break
		}
		certRaw = remains
	}

	return certs, nil
}

// ParsePrivateKey parses a PEM private key in EC, PKCS#8 or PKCS#1 form.
func ParsePrivateKey(key []byte) (interface{}, error) {
	pemBlock, _ := pem.Decode(key)
	if pemBlock == nil {
		return nil, errors.New("invalid private key")
	}

	ecPrivateKey, ecErr := x509.ParseECPrivateKey(pemBlock.Bytes)
	if ecErr == nil {
		return ecPrivateKey, nil
	}

	privKey, pkcs8Err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
	if pkcs8Err == nil {
		return privKey, nil
	}

	// Fallback to PKCS1
	privKey, pkcs1Err := x509.ParsePKCS1PrivateKey(pemBlock.Bytes)
	if pkcs1Err == nil {
		return privKey, nil
	}

	return nil, pkcs8Err
}

// ParseCertificateRequest parses a single PEM encoded CSR.
func ParseCertificateRequest(certRequest []byte) (*x509.CertificateRequest, error) {
	pemBlock, _ := pem.Decode(certRequest)
	if pemBlock == nil {
		return nil, errors.New("invalid certificate request")
	}

	return x509.ParseCertificateRequest(pemBlock.Bytes)
}

// Fingerprint returns the SHA-1 digest of the certificate in lowercase hex
// without separators, the canonical comparison form used by the portal.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

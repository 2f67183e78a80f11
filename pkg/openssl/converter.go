package openssl

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/pkix"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
)

// Converter turns a certificate and its private key into other formats.
// It is fallible and opaque; a failure is surfaced to the user, never
// retried.
type Converter interface {
	// ToPKCS12 bundles the certificate and key into a PKCS#12 blob.
	ToPKCS12(ctx context.Context, cert model.Certificate) ([]byte, error)
	// ToCSR derives a signing request from the existing key pair.
	ToCSR(ctx context.Context, cert model.Certificate) (string, error)
}

type CommandConverterOption func(c *CommandConverter)

func WithBinary(path string) CommandConverterOption {
	return func(c *CommandConverter) {
		c.binary = path
	}
}

// CommandConverter shells out to the openssl binary through a private
// temporary directory.
type CommandConverter struct {
	binary string

	// friendlyName ends up as the alias under which phones install the
	// certificate.
	friendlyName string
}

var _ Converter = (*CommandConverter)(nil)

func NewCommandConverter(opts ...CommandConverterOption) *CommandConverter {
	c := &CommandConverter{
		binary:       "openssl",
		friendlyName: "tnscm",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CommandConverter) ToPKCS12(ctx context.Context, cert model.Certificate) ([]byte, error) {
	certPath, keyPath, cleanup, err := c.materialize(cert)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out, err := c.run(ctx,
		"pkcs12", "-export",
		"-in", certPath,
		"-inkey", keyPath,
		"-name", c.friendlyName,
		"-passout", "pass:",
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CommandConverter) ToCSR(ctx context.Context, cert model.Certificate) (string, error) {
	certPath, keyPath, cleanup, err := c.materialize(cert)
	if err != nil {
		return "", err
	}
	defer cleanup()

	out, err := c.run(ctx,
		"x509", "-x509toreq",
		"-in", certPath,
		"-signkey", keyPath,
	)
	if err != nil {
		return "", err
	}
	if _, err := pkix.ParseCertificateRequest(out); err != nil {
		return "", fmt.Errorf("openssl produced an unusable csr: %s%w", err.Error(), model.ErrConversion)
	}
	return string(out), nil
}

// materialize validates the pair and writes it into a fresh temp dir.
func (c *CommandConverter) materialize(cert model.Certificate) (certPath, keyPath string, cleanup func(), err error) {
	if cert.PrivateKey == "" {
		return "", "", nil, fmt.Errorf("certificate %d has no private key on the NAS%w", cert.ID, model.ErrConversion)
	}
	if _, err := pkix.ParseCertificate([]byte(cert.Certificate)); err != nil {
		return "", "", nil, fmt.Errorf("certificate %d: %s%w", cert.ID, err.Error(), model.ErrConversion)
	}
	if _, err := pkix.ParsePrivateKey([]byte(cert.PrivateKey)); err != nil {
		return "", "", nil, fmt.Errorf("certificate %d key: %s%w", cert.ID, err.Error(), model.ErrConversion)
	}

	dir, err := os.MkdirTemp("", "tnscm")
	if err != nil {
		return "", "", nil, fmt.Errorf("%s%w", err.Error(), model.ErrConversion)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			logrus.Warnf("failed to remove %s: %v", dir, err)
		}
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, []byte(cert.Certificate), 0o600); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("%s%w", err.Error(), model.ErrConversion)
	}
	if err := os.WriteFile(keyPath, []byte(cert.PrivateKey), 0o600); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("%s%w", err.Error(), model.ErrConversion)
	}
	return certPath, keyPath, cleanup, nil
}

func (c *CommandConverter) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		logrus.Debugf("%s %v: %s", c.binary, args, stderr.String())
		return nil, fmt.Errorf("openssl %s: %s%w", args[0], stderr.String(), model.ErrConversion)
	}
	return stdout.Bytes(), nil
}

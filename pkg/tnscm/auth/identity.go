package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
)

// AdminPolicy selects how the distinguished admin identity is recognized.
type AdminPolicy string

const (
	// AdminPolicyFingerprint compares the presented fingerprint against a
	// configured one.
	AdminPolicyFingerprint AdminPolicy = "fingerprint"
	// AdminPolicySAN looks for a configured marker value among the SAN
	// entries of the resolved certificate.
	AdminPolicySAN AdminPolicy = "san"
)

type Config struct {
	Policy AdminPolicy `yaml:"policy"`
	Value  string      `yaml:"value"`
}

// CertificateSource is the slice of the connector the authorizer needs.
type CertificateSource interface {
	GetCertificateByFingerprint(ctx context.Context, fingerprint string) (model.Certificate, error)
}

// Authorizer maps presented client-certificate fingerprints onto caller
// identities and gates access to certificate material.
type Authorizer struct {
	source CertificateSource
	policy AdminPolicy
	value  string
}

func NewAuthorizer(source CertificateSource, cfg Config) (*Authorizer, error) {
	switch cfg.Policy {
	case AdminPolicyFingerprint, AdminPolicySAN:
	default:
		return nil, fmt.Errorf("unknown admin policy %q%w", cfg.Policy, model.ErrInvalidParameter)
	}
	if cfg.Value == "" {
		return nil, fmt.Errorf("admin value is required%w", model.ErrInvalidParameter)
	}

	value := cfg.Value
	if cfg.Policy == AdminPolicyFingerprint {
		value = model.NormalizeFingerprint(value)
	}
	return &Authorizer{source: source, policy: cfg.Policy, value: value}, nil
}

// ResolveCaller returns the certificate presented by the caller. An unknown
// fingerprint surfaces as forbidden, never as not-found, so probing cannot
// reveal which fingerprints exist.
func (a *Authorizer) ResolveCaller(ctx context.Context, fingerprint string) (model.Certificate, error) {
	if fingerprint == "" {
		return model.Certificate{}, fmt.Errorf("no client certificate presented%w", model.ErrForbidden)
	}

	cert, err := a.source.GetCertificateByFingerprint(ctx, fingerprint)
	if errors.Is(err, model.ErrNotFound) {
		logrus.Debugf("unrecognized fingerprint %s", model.NormalizeFingerprint(fingerprint))
		return model.Certificate{}, fmt.Errorf("unrecognized caller%w", model.ErrForbidden)
	} else if err != nil {
		return model.Certificate{}, err
	}
	return cert, nil
}

// IsAdmin reports whether the caller holds the distinguished admin identity.
// Transport failures are returned; an unrecognized caller is simply not
// an admin.
func (a *Authorizer) IsAdmin(ctx context.Context, fingerprint string) (bool, error) {
	if a.policy == AdminPolicyFingerprint {
		return model.NormalizeFingerprint(fingerprint) == a.value, nil
	}

	cert, err := a.ResolveCaller(ctx, fingerprint)
	if errors.Is(err, model.ErrForbidden) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return lo.ContainsBy(cert.SAN, func(entry string) bool {
		return model.SANValue(entry) == a.value
	}), nil
}

// AuthorizeDownload decides whether the caller may receive the requested
// certificate together with its private key. Admins always may; everyone
// else only within their own identity lineage.
func (a *Authorizer) AuthorizeDownload(ctx context.Context, requested model.Certificate, callerFingerprint string) error {
	admin, err := a.IsAdmin(ctx, callerFingerprint)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}

	caller, err := a.ResolveCaller(ctx, callerFingerprint)
	if err != nil {
		return err
	}
	if caller.DN != requested.DN {
		// Users must not obtain the private keys of other users, not even
		// by guessing identifiers.
		return fmt.Errorf("certificate belongs to another identity%w", model.ErrForbidden)
	}
	return nil
}

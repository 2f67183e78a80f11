package renew

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tnscm/tnscm/pkg/tnscm/auth"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
	"github.com/tnscm/tnscm/pkg/tnscm/truenas"
)

type Config struct {
	CertLifetimeDays int `yaml:"cert_lifetime_days"`
}

// CSRConverter produces a CSR from an existing certificate and key pair.
type CSRConverter interface {
	ToCSR(ctx context.Context, cert model.Certificate) (string, error)
}

// Service drives certificate renewal. It leans towards idempotency: a
// client that retries a renewal after a lost response receives the already
// issued certificate instead of accumulating duplicates.
type Service struct {
	connector  truenas.Connector
	authorizer *auth.Authorizer
	converter  CSRConverter
	lifetime   int

	// Renewals are serialized per Distinguished Name so two concurrent
	// requests for one identity cannot both pass the newest-cert check.
	mu      sync.Mutex
	dnLocks map[string]*sync.Mutex
}

func NewService(connector truenas.Connector, authorizer *auth.Authorizer, converter CSRConverter, cfg Config) *Service {
	lifetime := cfg.CertLifetimeDays
	if lifetime <= 0 {
		lifetime = 397
	}
	return &Service{
		connector:  connector,
		authorizer: authorizer,
		converter:  converter,
		lifetime:   lifetime,
		dnLocks:    make(map[string]*sync.Mutex),
	}
}

// Lineage returns every certificate sharing the given Distinguished Name,
// newest first. Identifiers are monotonically increasing issuance order, so
// ordering is strictly by id, never by validity window.
func (s *Service) Lineage(ctx context.Context, dn string) ([]model.Certificate, error) {
	certs, err := s.connector.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}

	lineage := lo.Filter(certs, func(cert model.Certificate, _ int) bool { return cert.DN == dn })
	sort.Slice(lineage, func(i, j int) bool { return lineage[i].ID > lineage[j].ID })
	return lineage, nil
}

// RenewOrFetchLatest renews the caller's certificate, unless a newer one
// for the same identity already exists and simply has not been installed
// yet; that one is returned instead. The second return value reports
// whether a new certificate was issued.
func (s *Service) RenewOrFetchLatest(ctx context.Context, callerFingerprint string, lifetimeDays int) (model.Certificate, bool, error) {
	caller, err := s.authorizer.ResolveCaller(ctx, callerFingerprint)
	if err != nil {
		return model.Certificate{}, false, err
	}
	if lifetimeDays <= 0 {
		lifetimeDays = s.lifetime
	}

	unlock := s.lockDN(caller.DN)
	defer unlock()

	lineage, err := s.Lineage(ctx, caller.DN)
	if err != nil {
		return model.Certificate{}, false, err
	}
	if len(lineage) > 0 && lineage[0].ID != caller.ID {
		logrus.Infof("identity %q already has uninstalled certificate %d, not issuing", caller.DN, lineage[0].ID)
		return lineage[0], false, nil
	}

	cert, err := s.connector.Renew(ctx, caller, lifetimeDays)
	if err != nil {
		return model.Certificate{}, false, err
	}
	logrus.Infof("issued certificate %d (%s) for %q", cert.ID, cert.Name, caller.DN)
	return cert, true, nil
}

// RenewViaCSR renews through the CSR path: the caller's existing key pair is
// converted into a CSR locally, imported as a pending certificate and signed
// by the caller's issuing CA. The NAS declining to sign surfaces as a remote
// job failure.
func (s *Service) RenewViaCSR(ctx context.Context, callerFingerprint string) (model.Certificate, error) {
	caller, err := s.authorizer.ResolveCaller(ctx, callerFingerprint)
	if err != nil {
		return model.Certificate{}, err
	}
	if caller.SignedBy == nil {
		return model.Certificate{}, fmt.Errorf("certificate %d has no issuing CA%w", caller.ID, model.ErrInvalidParameter)
	}

	unlock := s.lockDN(caller.DN)
	defer unlock()

	csr, err := s.converter.ToCSR(ctx, caller)
	if err != nil {
		return model.Certificate{}, err
	}

	pending, err := s.connector.ImportCSR(ctx, csr, caller)
	if err != nil {
		return model.Certificate{}, err
	}

	signed, err := s.connector.SignCSR(ctx, pending.ID, caller.SignedBy.ID, pending.Name)
	if err != nil {
		return model.Certificate{}, err
	}
	if signed == nil {
		return model.Certificate{}, fmt.Errorf("CA %d declined to sign csr %d%w", caller.SignedBy.ID, pending.ID, model.ErrRemoteJob)
	}
	return *signed, nil
}

func (s *Service) lockDN(dn string) func() {
	s.mu.Lock()
	lock, ok := s.dnLocks[dn]
	if !ok {
		lock = &sync.Mutex{}
		s.dnLocks[dn] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

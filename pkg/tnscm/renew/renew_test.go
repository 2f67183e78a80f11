package renew_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/tnscm/tnscm/pkg/tnscm/auth"
	"github.com/tnscm/tnscm/pkg/tnscm/model"
	"github.com/tnscm/tnscm/pkg/tnscm/renew"
	"github.com/tnscm/tnscm/pkg/tnscm/truenas"
)

// stubConnector is an in-memory Connector whose certificate list grows as
// renewals are issued.
type stubConnector struct {
	mu     sync.Mutex
	certs  []model.Certificate
	nextID int

	renewCalls   int
	lastLifetime int
	importedCSR  string
	signResult   *model.Certificate
	signCalled   bool
}

var _ truenas.Connector = (*stubConnector)(nil)

func (c *stubConnector) ListCertificateAuthorities(context.Context) ([]model.CertificateAuthority, error) {
	return nil, nil
}

func (c *stubConnector) ListCertificates(context.Context) ([]model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Certificate, len(c.certs))
	copy(out, c.certs)
	return out, nil
}

func (c *stubConnector) GetCertificateByFingerprint(_ context.Context, fingerprint string) (model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	normalized := model.NormalizeFingerprint(fingerprint)
	for _, cert := range c.certs {
		if model.NormalizeFingerprint(cert.Fingerprint) == normalized {
			return cert, nil
		}
	}
	return model.Certificate{}, model.ErrCertNotFound
}

func (c *stubConnector) GetCertificateByID(_ context.Context, id int) (model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cert := range c.certs {
		if cert.ID == id {
			return cert, nil
		}
	}
	return model.Certificate{}, model.ErrCertNotFound
}

func (c *stubConnector) CreateCertificate(context.Context, truenas.CreateCertificateRequest) (model.Job, error) {
	return model.Job{ID: 1, State: model.JobStateRunning}, nil
}

func (c *stubConnector) WaitForJob(context.Context, int64) (model.Certificate, error) {
	return model.Certificate{}, nil
}

func (c *stubConnector) Renew(_ context.Context, cert model.Certificate, lifetimeDays int) (model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewCalls++
	c.lastLifetime = lifetimeDays
	issued := model.Certificate{
		ID:   c.nextID,
		Name: truenas.GenerateName(cert.Name),
		DN:   cert.DN,
	}
	c.nextID++
	c.certs = append(c.certs, issued)
	return issued, nil
}

func (c *stubConnector) ImportCSR(_ context.Context, csrPEM string, cert model.Certificate) (model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.importedCSR = csrPEM
	pending := model.Certificate{ID: c.nextID, Name: truenas.GenerateName(cert.Name), DN: cert.DN}
	c.nextID++
	return pending, nil
}

func (c *stubConnector) SignCSR(context.Context, int, int, string) (*model.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signCalled = true
	return c.signResult, nil
}

type stubCSRConverter struct{}

func (stubCSRConverter) ToCSR(context.Context, model.Certificate) (string, error) {
	return "-----BEGIN CERTIFICATE REQUEST-----\nstub\n-----END CERTIFICATE REQUEST-----\n", nil
}

type RenewalTestSuite struct {
	suite.Suite

	ctx       context.Context
	connector *stubConnector
	service   *renew.Service
}

func TestRenewalTestSuite(t *testing.T) {
	suite.Run(t, new(RenewalTestSuite))
}

func (s *RenewalTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.connector = &stubConnector{
		nextID: 10,
		certs: []model.Certificate{
			{ID: 3, Name: "alice_2", Fingerprint: "AA:BB:CC", DN: "/CN=alice", SignedBy: &model.CertificateAuthority{ID: 1}},
			{ID: 2, Name: "alice_1", Fingerprint: "11:11:11", DN: "/CN=alice"},
			{ID: 4, Name: "bob", Fingerprint: "DD:EE:FF", DN: "/CN=bob"},
		},
	}

	authorizer, err := auth.NewAuthorizer(s.connector, auth.Config{Policy: auth.AdminPolicySAN, Value: "portal-admin"})
	s.Require().NoError(err)
	s.service = renew.NewService(s.connector, authorizer, stubCSRConverter{}, renew.Config{CertLifetimeDays: 365})
}

func (s *RenewalTestSuite) TestRenewIssuesWhenCallerHoldsNewest() {
	cert, issued, err := s.service.RenewOrFetchLatest(s.ctx, "aabbcc", 0)
	s.Require().NoError(err)
	s.Require().True(issued)
	s.Require().Equal(10, cert.ID)
	s.Require().Equal("alice_3", cert.Name)
	s.Require().Equal(1, s.connector.renewCalls)
	s.Require().Equal(365, s.connector.lastLifetime)
}

func (s *RenewalTestSuite) TestRenewShortCircuitsOnNewerCertificate() {
	s.connector.certs = append(s.connector.certs, model.Certificate{
		ID: 5, Name: "alice_3", Fingerprint: "22:22:22", DN: "/CN=alice",
	})

	cert, issued, err := s.service.RenewOrFetchLatest(s.ctx, "aabbcc", 0)
	s.Require().NoError(err)
	s.Require().False(issued)
	s.Require().Equal(5, cert.ID)
	s.Require().Zero(s.connector.renewCalls)
}

func (s *RenewalTestSuite) TestRenewUsesExplicitLifetime() {
	_, _, err := s.service.RenewOrFetchLatest(s.ctx, "aabbcc", 30)
	s.Require().NoError(err)
	s.Require().Equal(30, s.connector.lastLifetime)
}

func (s *RenewalTestSuite) TestRenewDeniesUnknownCaller() {
	_, _, err := s.service.RenewOrFetchLatest(s.ctx, "00:00:00", 0)
	s.Require().ErrorIs(err, model.ErrForbidden)
}

func (s *RenewalTestSuite) TestConcurrentRenewalsIssueOnce() {
	wg := sync.WaitGroup{}
	issuedCount := 0
	mu := sync.Mutex{}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, issued, err := s.service.RenewOrFetchLatest(s.ctx, "aabbcc", 0)
			s.Require().NoError(err)
			mu.Lock()
			if issued {
				issuedCount++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// The per-DN lock makes the second request observe the first one's
	// result instead of issuing again.
	s.Require().Equal(1, issuedCount)
	s.Require().Equal(1, s.connector.renewCalls)
}

func (s *RenewalTestSuite) TestLineageOrdering() {
	lineage, err := s.service.Lineage(s.ctx, "/CN=alice")
	s.Require().NoError(err)
	s.Require().Len(lineage, 2)
	s.Require().Equal(3, lineage[0].ID)
	s.Require().Equal(2, lineage[1].ID)
}

func (s *RenewalTestSuite) TestRenewViaCSR() {
	s.connector.signResult = &model.Certificate{ID: 11, Name: "alice_3", DN: "/CN=alice"}

	cert, err := s.service.RenewViaCSR(s.ctx, "aabbcc")
	s.Require().NoError(err)
	s.Require().Equal(11, cert.ID)
	s.Require().Contains(s.connector.importedCSR, "CERTIFICATE REQUEST")
}

func (s *RenewalTestSuite) TestRenewViaCSRDeclined() {
	s.connector.signResult = nil

	_, err := s.service.RenewViaCSR(s.ctx, "aabbcc")
	s.Require().ErrorIs(err, model.ErrRemoteJob)
	s.Require().True(s.connector.signCalled)
}

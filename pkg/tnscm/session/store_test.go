package session_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tnscm/tnscm/pkg/tnscm/session"
)

type StoreTestSuite struct {
	suite.Suite

	now   time.Time
	store *session.Store
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.store = session.NewStore(
		session.Config{LifetimeSeconds: 60},
		session.WithClock(func() time.Time { return s.now }),
	)
}

func (s *StoreTestSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *StoreTestSuite) TestIssueKeyShape() {
	issued, err := s.store.Issue(3)
	s.Require().NoError(err)
	s.Require().Len(issued.Key, session.KeyLength)
	s.Require().Regexp(regexp.MustCompile(`^[a-zA-Z0-9]+$`), issued.Key)
}

func (s *StoreTestSuite) TestIssueIsIdempotentWithinLifetime() {
	first, err := s.store.Issue(3)
	s.Require().NoError(err)

	s.advance(30 * time.Second)
	second, err := s.store.Issue(3)
	s.Require().NoError(err)
	s.Require().Equal(first.Key, second.Key)
}

func (s *StoreTestSuite) TestIssueAfterExpiryReturnsNewKey() {
	first, err := s.store.Issue(3)
	s.Require().NoError(err)

	s.advance(61 * time.Second)
	second, err := s.store.Issue(3)
	s.Require().NoError(err)
	s.Require().NotEqual(first.Key, second.Key)
}

func (s *StoreTestSuite) TestOneSessionPerCertificate() {
	a, err := s.store.Issue(3)
	s.Require().NoError(err)
	b, err := s.store.Issue(4)
	s.Require().NoError(err)
	s.Require().NotEqual(a.Key, b.Key)

	certID, ok := s.store.Redeem(a.Key)
	s.Require().True(ok)
	s.Require().Equal(3, certID)
	certID, ok = s.store.Redeem(b.Key)
	s.Require().True(ok)
	s.Require().Equal(4, certID)
}

func (s *StoreTestSuite) TestRedeemIsRepeatableUntilExpiry() {
	issued, err := s.store.Issue(3)
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		certID, ok := s.store.Redeem(issued.Key)
		s.Require().True(ok)
		s.Require().Equal(3, certID)
	}
}

func (s *StoreTestSuite) TestRedeemAfterExpiry() {
	issued, err := s.store.Issue(3)
	s.Require().NoError(err)

	_, ok := s.store.Redeem(issued.Key)
	s.Require().True(ok)

	s.advance(60 * time.Second)
	_, ok = s.store.Redeem(issued.Key)
	s.Require().False(ok)
}

func (s *StoreTestSuite) TestRedeemUnknownKey() {
	_, ok := s.store.Redeem("nosuchkey")
	s.Require().False(ok)
}

func (s *StoreTestSuite) TestRemaining() {
	issued, err := s.store.Issue(3)
	s.Require().NoError(err)

	s.Require().Equal(60*time.Second, s.store.Remaining(issued.Key))

	s.advance(45 * time.Second)
	s.Require().Equal(15*time.Second, s.store.Remaining(issued.Key))

	s.advance(30 * time.Second)
	s.Require().Equal(time.Duration(0), s.store.Remaining(issued.Key))

	s.Require().Equal(time.Duration(0), s.store.Remaining("nosuchkey"))
}

package session_test

import (
	"sync/atomic"
	"testing"
	"time"

	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestResolve(t *testing.T) {
	scope, err := session.Resolve(session.Fixed(session.Identity{UserID: "u1"}), "savings")
	require.NoError(t, err)
	assert.Equal(t, ledgerstore.LedgerPath("savings", "u1"), scope.Ledger)
	assert.Equal(t, "u1", scope.Identity.UserID)

	_, err = session.Resolve(session.Anonymous(), "savings")
	assert.ErrorIs(t, err, session.ErrNoIdentity)

	_, err = session.Resolve(nil, "savings")
	assert.ErrorIs(t, err, session.ErrNoIdentity)

	_, err = session.Resolve(session.Fixed(session.Identity{}), "savings")
	assert.ErrorIs(t, err, session.ErrNoIdentity)
}

type SessionTestSuite struct {
	suite.Suite
	session *session.Session
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.session = session.New()
}

func (s *SessionTestSuite) TestSignInAndOut_NotifyListeners() {
	var events []bool
	cancel := s.session.OnIdentityChange(func(_ session.Identity, ok bool) {
		events = append(events, ok)
	})
	defer cancel()

	_, ok := s.session.CurrentIdentity()
	s.False(ok)

	s.session.SignIn(session.Identity{UserID: "u1", Email: "a@b.co"}, time.Time{})
	id, ok := s.session.CurrentIdentity()
	s.True(ok)
	s.Equal("u1", id.UserID)

	s.session.SignOut()
	s.session.SignOut()
	_, ok = s.session.CurrentIdentity()
	s.False(ok)

	s.Equal([]bool{true, false}, events)
}

func (s *SessionTestSuite) TestExpiry_DropsIdentity() {
	var dropped atomic.Bool
	cancel := s.session.OnIdentityChange(func(_ session.Identity, ok bool) {
		if !ok {
			dropped.Store(true)
		}
	})
	defer cancel()

	s.session.SignIn(session.Identity{UserID: "u1"}, time.Now().Add(30*time.Millisecond))

	s.Eventually(dropped.Load, time.Second, 5*time.Millisecond)
	_, ok := s.session.CurrentIdentity()
	s.False(ok)
}

func (s *SessionTestSuite) TestCancelledListener_IsNotCalled() {
	calls := 0
	cancel := s.session.OnIdentityChange(func(session.Identity, bool) { calls++ })
	cancel()
	cancel()

	s.session.SignIn(session.Identity{UserID: "u1"}, time.Time{})

	s.Zero(calls)
}

func (s *SessionTestSuite) TestResignIn_ReplacesExpiry() {
	s.session.SignIn(session.Identity{UserID: "u1"}, time.Now().Add(20*time.Millisecond))
	s.session.SignIn(session.Identity{UserID: "u1"}, time.Now().Add(time.Hour))

	time.Sleep(50 * time.Millisecond)

	_, ok := s.session.CurrentIdentity()
	s.True(ok)
}

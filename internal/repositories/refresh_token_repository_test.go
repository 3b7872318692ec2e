package repositories

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"savings-tracker/internal/database"
	"savings-tracker/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

func TestRefreshTokenRepository(t *testing.T) {
	suite.Run(t, new(RefreshTokenRepositorySuite))
}

type RefreshTokenRepositorySuite struct {
	suite.Suite
	db     *database.DB
	repo   RefreshTokenRepositoryInterface
	userID uuid.UUID
}

func (s *RefreshTokenRepositorySuite) SetupTest() {
	s.db = database.SetupTestDB(s.T())
	s.repo = NewRefreshTokenRepository(s.db.DB)
	s.userID = database.CreateTestUser(s.T(), s.db, gofakeit.Email()).ID
}

func (s *RefreshTokenRepositorySuite) TearDownTest() {
	database.CleanupTestDB(s.T(), s.db)
}

func hashOf(token string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(token)))
}

func (s *RefreshTokenRepositorySuite) create(raw string, expiresIn time.Duration) *models.RefreshToken {
	token := &models.RefreshToken{
		UserID:    s.userID,
		TokenHash: hashOf(raw),
		ExpiresAt: time.Now().Add(expiresIn),
	}
	s.Require().NoError(s.repo.Create(token))
	return token
}

func (s *RefreshTokenRepositorySuite) TestCreateAndGetByHash() {
	token := s.create("refresh.one", time.Hour)
	s.NotEqual(uuid.Nil, token.ID)

	found, err := s.repo.GetByTokenHash(hashOf("refresh.one"))
	s.Require().NoError(err)
	s.Equal(token.ID, found.ID)
	s.False(found.IsRevoked())
	s.False(found.IsExpired())

	_, err = s.repo.GetByTokenHash(hashOf("missing"))
	s.ErrorIs(err, ErrRefreshTokenNotFound)
}

func (s *RefreshTokenRepositorySuite) unrevokedCount() int64 {
	var count int64
	s.Require().NoError(s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", s.userID).
		Count(&count).Error)
	return count
}

func (s *RefreshTokenRepositorySuite) TestRevoke_Twice() {
	token := s.create("once", time.Hour)

	s.Require().NoError(s.repo.Revoke(token.ID))
	s.ErrorIs(s.repo.Revoke(token.ID), ErrRefreshTokenNotFound)

	found, err := s.repo.GetByTokenHash(hashOf("once"))
	s.Require().NoError(err)
	s.True(found.IsRevoked())
}

func (s *RefreshTokenRepositorySuite) TestRevokeAllForUser() {
	s.create("a", time.Hour)
	s.create("b", time.Hour)

	s.Require().Equal(int64(2), s.unrevokedCount())

	s.Require().NoError(s.repo.RevokeAllForUser(s.userID))

	s.Zero(s.unrevokedCount())
}

func (s *RefreshTokenRepositorySuite) TestDeleteExpired() {
	s.create("live", time.Hour)
	s.create("dead", -time.Minute)

	deleted, err := s.repo.DeleteExpired()
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}

func (s *RefreshTokenRepositorySuite) TestDeleteRevokedOlderThan() {
	old := s.create("old", time.Hour)
	s.Require().NoError(s.db.Model(old).Update("revoked_at", time.Now().Add(-48*time.Hour)).Error)

	recent := s.create("recent", time.Hour)
	s.Require().NoError(s.repo.Revoke(recent.ID))

	deleted, err := s.repo.DeleteRevokedOlderThan(24 * time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}

package service

import (
	"context"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/repository"
	"github.com/sirupsen/logrus"
)

// RefreshTokenService issues token pairs and tracks refresh-token jtis so they
// can be rotated once and revoked on logout.
type RefreshTokenService struct {
	store  repository.RefreshTokenStore
	jwt    *JWTService
	logger *logrus.Logger
}

func NewRefreshTokenService(store repository.RefreshTokenStore, jwtService *JWTService, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		store:  store,
		jwt:    jwtService,
		logger: logger,
	}
}

// Issue starts a new token family for user.
func (s *RefreshTokenService) Issue(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	return s.issue(ctx, user.ID, user.PhoneNumber, "")
}

func (s *RefreshTokenService) issue(ctx context.Context, userID, phoneNumber, familyID string) (*models.TokenPair, error) {
	pair, refreshClaims, err := s.jwt.IssuePair(userID, phoneNumber, familyID)
	if err != nil {
		return nil, err
	}

	if err := s.store.Store(ctx, models.RefreshTokenData{
		JTI:       refreshClaims.ID,
		UserID:    userID,
		Phone:     phoneNumber,
		FamilyID:  refreshClaims.FamilyID,
		CreatedAt: time.Now(),
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Rotate exchanges a live refresh token for a new pair in the same family and
// revokes the presented one.
func (s *RefreshTokenService) Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.jwt.VerifyTokenType(refreshToken, TokenTypeRefresh)
	if err != nil {
		s.logger.WithError(err).Debug("Refresh token verification failed")
		return nil, apperr.Unauthorized("Invalid refresh token")
	}

	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.logger.WithFields(logrus.Fields{
			"phone":  claims.Phone,
			"family": claims.FamilyID,
		}).Warn("Revoked refresh token presented")
		return nil, apperr.Unauthorized("Refresh token has been revoked")
	}

	data, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Unauthorized("Invalid refresh token")
		}
		return nil, err
	}

	if err := s.store.Revoke(ctx, claims.ID); err != nil {
		return nil, err
	}
	return s.issue(ctx, data.UserID, data.Phone, data.FamilyID)
}

// Revoke invalidates refreshToken if it belongs to phoneNumber. Unknown jtis
// are ignored so logout is idempotent.
func (s *RefreshTokenService) Revoke(ctx context.Context, phoneNumber, refreshToken string) error {
	claims, err := s.jwt.VerifyTokenType(refreshToken, TokenTypeRefresh)
	if err != nil {
		return apperr.Unauthorized("Invalid refresh token")
	}
	if claims.Phone != phoneNumber {
		return apperr.Unauthorized("Refresh token does not belong to caller")
	}

	if err := s.store.Revoke(ctx, claims.ID); err != nil && !apperr.IsNotFound(err) {
		return err
	}
	return nil
}

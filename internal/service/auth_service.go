package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuthService ties OTP verification to identities and token issuance.
type AuthService struct {
	users   repository.UserStore
	otp     *OTPService
	ledger  *LedgerService
	refresh *RefreshTokenService
	logger  *logrus.Logger
	now     func() time.Time
}

func NewAuthService(
	users repository.UserStore,
	otp *OTPService,
	ledger *LedgerService,
	refresh *RefreshTokenService,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		otp:     otp,
		ledger:  ledger,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
	}
}

// Challenge is the outcome of SendOTP. Code is set only when the
// verification policy allows echoing it.
type Challenge struct {
	PhoneNumber string
	Code        string
}

type Login struct {
	User   *models.User
	Tokens *models.TokenPair
}

func (s *AuthService) SendOTP(ctx context.Context, phoneNumber string) (*Challenge, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	code, err := s.otp.RequestChallenge(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	c := &Challenge{PhoneNumber: phoneNumber}
	if s.otp.EchoCode() {
		c.Code = code
	}
	return c, nil
}

// VerifyOTP consumes the challenge, then finds or creates the identity and
// issues a token pair.
func (s *AuthService) VerifyOTP(ctx context.Context, phoneNumber, code string) (*Login, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	code = strings.TrimSpace(code)
	if phoneNumber == "" || code == "" {
		return nil, apperr.Validation("otp", "Phone number and OTP are required")
	}

	if err := s.otp.Verify(ctx, phoneNumber, code); err != nil {
		return nil, err
	}

	user, err := s.getOrCreate(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	if user.Tokens, err = s.ledger.Balance(ctx, phoneNumber); err != nil {
		return nil, err
	}

	tokens, err := s.refresh.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"phone":   phoneNumber,
		"user_id": user.ID,
	}).Info("User logged in successfully")
	return &Login{User: user, Tokens: tokens}, nil
}

func (s *AuthService) getOrCreate(ctx context.Context, phoneNumber string) (*models.User, error) {
	now := s.now().UTC()

	user, err := s.users.Get(ctx, phoneNumber)
	if err == nil {
		if err := s.users.UpdateLastLogin(ctx, phoneNumber, now); err != nil {
			return nil, err
		}
		user.LastLogin = now
		return user, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	user = &models.User{
		ID:          "user_" + uuid.New().String(),
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		LastLogin:   now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// lost a race with a concurrent first login
			return s.getOrCreate(ctx, phoneNumber)
		}
		return nil, err
	}

	s.logger.WithField("phone", phoneNumber).Info("New user created")
	return user, nil
}

// Profile returns the identity with its current ledger balance.
func (s *AuthService) Profile(ctx context.Context, phoneNumber string) (*models.User, error) {
	user, err := s.users.Get(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	if user.Tokens, err = s.ledger.Balance(ctx, phoneNumber); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperr.Validation("refreshToken", "Refresh token is required")
	}
	return s.refresh.Rotate(ctx, refreshToken)
}

// Logout revokes refreshToken when one is given; the access token simply expires.
func (s *AuthService) Logout(ctx context.Context, phoneNumber, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.refresh.Revoke(ctx, phoneNumber, refreshToken)
}

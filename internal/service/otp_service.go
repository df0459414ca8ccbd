package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/notify"
	"github.com/edlab/edlab/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type OTPService struct {
	store   repository.OTPStore
	sender  notify.Sender
	policy  VerificationPolicy
	cfg     *config.OTPConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

func NewOTPService(
	store repository.OTPStore,
	sender notify.Sender,
	policy VerificationPolicy,
	cfg *config.OTPConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		store:   store,
		sender:  sender,
		policy:  policy,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// EchoCode reports whether the issued code may be returned to the caller.
func (s *OTPService) EchoCode() bool {
	return s.policy.EchoCode()
}

// RequestChallenge replaces any outstanding challenge for phoneNumber with a
// fresh code and hands it to the sender.
func (s *OTPService) RequestChallenge(ctx context.Context, phoneNumber string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", apperr.Validation("phoneNumber", "Phone number is required")
	}

	otp, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(otp), s.cfg.HashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	if err := s.store.Put(ctx, models.OTPData{
		OTPHash:   string(hashedOTP),
		Phone:     phoneNumber,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}); err != nil {
		return "", err
	}

	if err := s.sender.SendOTP(ctx, phoneNumber, otp); err != nil {
		return "", &apperr.DeliveryError{Err: err}
	}

	s.metrics.OTPChallenges.Inc()
	s.logger.WithField("phone", phoneNumber).Info("OTP challenge issued")
	return otp, nil
}

// Verify consumes the challenge for phoneNumber. Any attempt that reaches the
// expiry check deletes the challenge, whatever the outcome.
func (s *OTPService) Verify(ctx context.Context, phoneNumber, code string) error {
	// the challenge is consumed by this attempt whatever the outcome
	challenge, err := s.store.Take(ctx, phoneNumber)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.metrics.OTPVerifications.WithLabelValues("not_found").Inc()
			return &apperr.NotFoundError{Resource: "OTP", Key: phoneNumber, Message: "OTP not found or expired"}
		}
		return err
	}

	if challenge.Expired(s.now()) {
		s.metrics.OTPVerifications.WithLabelValues("expired").Inc()
		return &apperr.ExpiredError{Resource: "OTP"}
	}

	if !s.policy.Verify(challenge, code) {
		s.metrics.OTPVerifications.WithLabelValues("invalid").Inc()
		s.logger.WithField("phone", phoneNumber).Info("OTP verification failed")
		return apperr.Validation("otp", "Invalid OTP")
	}

	s.metrics.OTPVerifications.WithLabelValues("success").Inc()
	return nil
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}

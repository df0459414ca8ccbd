package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/events"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingSender struct {
	codes map[string]string
	err   error
}

func (s *recordingSender) SendOTP(_ context.Context, phoneNumber, code string) error {
	if s.err != nil {
		return s.err
	}
	s.codes[phoneNumber] = code
	return nil
}

// fakeClock is advanced by tests; services read it through their now field.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	cfg       *config.Config
	stores    *repository.Stores
	publisher *recordingPublisher
	sender    *recordingSender
	metrics   *metrics.Metrics
	clock     *fakeClock

	otp     *OTPService
	ledger  *LedgerService
	labs    *LabService
	jwt     *JWTService
	refresh *RefreshTokenService
	auth    *AuthService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	cfg := &config.Config{
		JWT:    config.JWTConfig{SecretKey: testSecret, AccessExpiry: 15 * time.Minute, RefreshExpiry: time.Hour},
		OTP:    config.OTPConfig{Length: 4, Expiry: 5 * time.Minute, VerificationMode: mode, HashCost: bcrypt.MinCost},
		Ledger: config.LedgerConfig{DefaultBalance: 100, HistoryLimit: 20},
	}
	logger := quietLogger()

	f := &fixture{
		cfg:       cfg,
		stores:    repository.NewMemoryStores(),
		publisher: &recordingPublisher{},
		sender:    &recordingSender{codes: map[string]string{}},
		metrics:   metrics.New(prometheus.NewRegistry()),
		clock:     &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	policy, err := NewVerificationPolicy(&cfg.OTP)
	require.NoError(t, err)
	f.jwt, err = NewJWTService(&cfg.JWT, logger)
	require.NoError(t, err)

	f.otp = NewOTPService(f.stores.OTPs, f.sender, policy, &cfg.OTP, f.metrics, logger)
	f.otp.now = f.clock.Now
	f.ledger = NewLedgerService(f.stores.Ledger, f.publisher, f.metrics, &cfg.Ledger, logger)
	f.ledger.now = f.clock.Now
	f.labs = NewLabService(f.stores.Sessions, f.publisher, f.metrics, logger)
	f.labs.now = f.clock.Now
	f.refresh = NewRefreshTokenService(f.stores.RefreshTokens, f.jwt, logger)
	f.auth = NewAuthService(f.stores.Users, f.otp, f.ledger, f.refresh, logger)
	f.auth.now = f.clock.Now
	return f
}

var errBoom = errors.New("boom")

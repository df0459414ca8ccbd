package service

import (
	"fmt"

	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// VerificationPolicy decides whether a submitted code satisfies a live challenge.
type VerificationPolicy interface {
	Verify(challenge *models.OTPData, code string) bool
	// EchoCode reports whether send-otp may return the code to the caller.
	EchoCode() bool
}

// StrictVerificationPolicy requires the code that was issued.
type StrictVerificationPolicy struct{}

func (StrictVerificationPolicy) Verify(challenge *models.OTPData, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(challenge.OTPHash), []byte(code)) == nil
}

func (StrictVerificationPolicy) EchoCode() bool { return false }

// DemoVerificationPolicy accepts any numeric code of the configured length.
type DemoVerificationPolicy struct {
	Length int
}

func (p DemoVerificationPolicy) Verify(_ *models.OTPData, code string) bool {
	if len(code) != p.Length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (DemoVerificationPolicy) EchoCode() bool { return true }

func NewVerificationPolicy(cfg *config.OTPConfig) (VerificationPolicy, error) {
	switch cfg.VerificationMode {
	case config.VerificationStrict:
		return StrictVerificationPolicy{}, nil
	case config.VerificationDemo:
		return DemoVerificationPolicy{Length: cfg.Length}, nil
	default:
		return nil, fmt.Errorf("unknown OTP verification mode %q", cfg.VerificationMode)
	}
}

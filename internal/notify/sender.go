package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Sender delivers an OTP code to a phone number.
type Sender interface {
	SendOTP(ctx context.Context, phoneNumber, code string) error
}

// LogSender logs delivery instead of contacting a provider. The code itself
// is only logged at debug level.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendOTP(_ context.Context, phoneNumber, code string) error {
	s.logger.WithField("phone", phoneNumber).Info("OTP delivered via log sender")
	s.logger.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"otp":   code,
	}).Debug("OTP generated (logged for development)")
	return nil
}

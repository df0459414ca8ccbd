package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// TwilioSender sends the code as an SMS through the Twilio Messages API.
// Calls go through a circuit breaker so a failing provider is not hammered.
type TwilioSender struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
	cb         *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewTwilioSender(cfg *config.SMSConfig, logger *logrus.Logger) *TwilioSender {
	st := gobreaker.Settings{
		Name:        "twilio",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &TwilioSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(cfg.TwilioBaseURL, "/"),
		accountSID: cfg.TwilioAccountSID,
		authToken:  cfg.TwilioAuthToken,
		from:       cfg.TwilioFromNumber,
		cb:         gobreaker.NewCircuitBreaker(st),
		logger:     logger,
	}
}

func (s *TwilioSender) SendOTP(ctx context.Context, phoneNumber, code string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.send(ctx, phoneNumber, code)
	})
	if err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to send OTP via Twilio")
		return err
	}
	return nil
}

func (s *TwilioSender) send(ctx context.Context, phoneNumber, code string) error {
	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("From", s.from)
	form.Set("Body", fmt.Sprintf("Your EdLab verification code is %s", code))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OTPChallenges       prometheus.Counter
	OTPVerifications    *prometheus.CounterVec
	TokensRecharged     prometheus.Counter
	TokensDeducted      prometheus.Counter
	InsufficientBalance prometheus.Counter
	SessionsStarted     *prometheus.CounterVec
	SessionsEnded       prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers the service collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OTPChallenges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edlab_otp_challenges_total",
			Help: "OTP challenges issued",
		}),
		OTPVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edlab_otp_verifications_total",
			Help: "OTP verification attempts by outcome",
		}, []string{"outcome"}),
		TokensRecharged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edlab_tokens_recharged_total",
			Help: "Tokens credited by recharges",
		}),
		TokensDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edlab_tokens_deducted_total",
			Help: "Tokens debited by deductions",
		}),
		InsufficientBalance: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edlab_insufficient_balance_total",
			Help: "Deductions rejected for insufficient balance",
		}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edlab_lab_sessions_started_total",
			Help: "Lab sessions started by type",
		}, []string{"type"}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edlab_lab_sessions_ended_total",
			Help: "Lab sessions ended",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edlab_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edlab_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.OTPChallenges,
		m.OTPVerifications,
		m.TokensRecharged,
		m.TokensDeducted,
		m.InsufficientBalance,
		m.SessionsStarted,
		m.SessionsEnded,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

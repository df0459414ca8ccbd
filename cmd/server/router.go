package main

import (
	"net/http"

	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/handlers"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type routerDeps struct {
	auth        *handlers.AuthHandlers
	tokens      *handlers.TokenHandlers
	labs        *handlers.LabHandlers
	system      *handlers.SystemHandlers
	requireAuth func(http.Handler) http.Handler
	otpLimiter  *middleware.IPRateLimiter
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	cfg         *config.ServerConfig
	logger      *logrus.Logger
}

func setupRouter(d routerDeps) *mux.Router {
	router := mux.NewRouter()

	chain := []mux.MiddlewareFunc{
		middleware.Recovery(d.logger, !d.cfg.IsProduction()),
		middleware.CORS(d.cfg.AllowedOrigins),
		middleware.RequestLogger(d.logger, d.metrics),
	}
	router.Use(chain...)

	// mux skips router middleware when no route matches
	router.NotFoundHandler = wrap(http.HandlerFunc(d.system.NotFound), chain)
	router.MethodNotAllowedHandler = wrap(http.HandlerFunc(d.system.MethodNotAllowed), chain)

	router.Handle("/metrics", metrics.Handler(d.gatherer)).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", d.system.Health).Methods("GET", "OPTIONS")
	api.HandleFunc("/docs", d.system.Docs).Methods("GET", "OPTIONS")

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Handle("/send-otp", d.otpLimiter.Limit(http.HandlerFunc(d.auth.SendOTP))).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", d.auth.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/profile/{phoneNumber}", d.auth.Profile).Methods("GET", "OPTIONS")
	auth.HandleFunc("/refresh", d.auth.RefreshToken).Methods("POST", "OPTIONS")

	protected := auth.NewRoute().Subrouter()
	protected.Use(d.requireAuth)
	protected.HandleFunc("/logout", d.auth.Logout).Methods("POST", "OPTIONS")
	protected.HandleFunc("/me", d.auth.Me).Methods("GET", "OPTIONS")

	tokens := api.PathPrefix("/tokens").Subrouter()
	tokens.HandleFunc("/balance/{phoneNumber}", d.tokens.Balance).Methods("GET", "OPTIONS")
	tokens.HandleFunc("/recharge", d.tokens.Recharge).Methods("POST", "OPTIONS")
	tokens.HandleFunc("/deduct", d.tokens.Deduct).Methods("POST", "OPTIONS")
	tokens.HandleFunc("/history/{phoneNumber}", d.tokens.History).Methods("GET", "OPTIONS")
	tokens.HandleFunc("/packages", d.tokens.Packages).Methods("GET", "OPTIONS")

	labs := api.PathPrefix("/labs").Subrouter()
	labs.HandleFunc("/voice", d.labs.StartVoice).Methods("POST", "OPTIONS")
	labs.HandleFunc("/video", d.labs.StartVideo).Methods("POST", "OPTIONS")
	labs.HandleFunc("/end-session", d.labs.EndSession).Methods("POST", "OPTIONS")
	labs.HandleFunc("/sessions/{phoneNumber}", d.labs.Sessions).Methods("GET", "OPTIONS")
	labs.HandleFunc("/session/{sessionId}", d.labs.Session).Methods("GET", "OPTIONS")
	labs.HandleFunc("/catalog", d.labs.Catalog).Methods("GET", "OPTIONS")

	return router
}

// wrap applies chain to h with the first middleware outermost, matching
// the order router.Use runs them in.
func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

package handlers

import (
	"net/http"
	"time"
)

const apiVersion = "1.0.0"

type SystemHandlers struct {
	environment string
}

func NewSystemHandlers(environment string) *SystemHandlers {
	return &SystemHandlers{environment: environment}
}

type HealthResponse struct {
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
}

type DocsResponse struct {
	Title       string                       `json:"title"`
	Version     string                       `json:"version"`
	Description string                       `json:"description"`
	Endpoints   map[string]map[string]string `json:"endpoints"`
}

type NotFoundResponse struct {
	ErrorResponse
	AvailableEndpoints string `json:"availableEndpoints"`
}

var endpointDocs = map[string]map[string]string{
	"auth": {
		"POST /api/auth/send-otp":             "Send OTP to phone number",
		"POST /api/auth/verify-otp":           "Verify OTP and login",
		"GET /api/auth/profile/{phoneNumber}": "Get user profile",
		"POST /api/auth/refresh":              "Exchange a refresh token for a new token pair",
		"POST /api/auth/logout":               "Revoke a refresh token (Bearer)",
		"GET /api/auth/me":                    "Get the caller's profile (Bearer)",
	},
	"tokens": {
		"GET /api/tokens/balance/{phoneNumber}": "Get token balance",
		"POST /api/tokens/recharge":             "Recharge tokens via USSD",
		"POST /api/tokens/deduct":               "Deduct tokens for services",
		"GET /api/tokens/history/{phoneNumber}": "Get transaction history",
		"GET /api/tokens/packages":              "List recharge packages",
	},
	"labs": {
		"POST /api/labs/voice":                 "Start voice lab session",
		"POST /api/labs/video":                 "Start video chat session",
		"POST /api/labs/end-session":           "End active session",
		"GET /api/labs/sessions/{phoneNumber}": "Get user sessions",
		"GET /api/labs/session/{sessionId}":    "Get session details",
		"GET /api/labs/catalog":                "List voice topics and video agents",
	},
	"system": {
		"GET /api/health": "Health check",
		"GET /api/docs":   "This document",
		"GET /metrics":    "Prometheus metrics",
	},
}

func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, HealthResponse{
		Message:     "EdTech Platform API is running",
		Timestamp:   time.Now().UTC(),
		Version:     apiVersion,
		Environment: h.environment,
	})
}

func (h *SystemHandlers) Docs(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, DocsResponse{
		Title:       "EdLab API",
		Version:     apiVersion,
		Description: "Phone login, token ledger and lab sessions for the EdLab platform",
		Endpoints:   endpointDocs,
	})
}

func (h *SystemHandlers) NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusNotFound, NotFoundResponse{
		ErrorResponse:      ErrorResponse{Code: "NOT_FOUND", Message: "API endpoint not found"},
		AvailableEndpoints: "/api/docs",
	})
}

func (h *SystemHandlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

package handlers

import (
	"net/http"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/middleware"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	authService *service.AuthService
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
}

type SendOTPResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp,omitempty"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
	OTP         string `json:"otp" validate:"notblank,max=16"`
}

type VerifyOTPResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
}

type UserResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"notblank"`
}

type RefreshTokenResponse struct {
	Success bool `json:"success"`
	models.TokenPair
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	challenge, err := h.authService.SendOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SendOTPResponse{
		Success:     true,
		Message:     "OTP sent successfully",
		PhoneNumber: challenge.PhoneNumber,
		OTP:         challenge.Code,
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	login, err := h.authService.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		// a missing challenge is the caller's mistake here, not an unknown resource
		if apperr.IsNotFound(err) {
			respondWithError(w, http.StatusBadRequest, "OTP_NOT_FOUND", err.Error())
			return
		}
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:      true,
		Message:      "OTP verified successfully",
		User:         login.User,
		AccessToken:  login.Tokens.AccessToken,
		RefreshToken: login.Tokens.RefreshToken,
		TokenType:    login.Tokens.TokenType,
		ExpiresIn:    login.Tokens.ExpiresIn,
	})
}

func (h *AuthHandlers) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.Profile(r.Context(), mux.Vars(r)["phoneNumber"])
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RefreshTokenResponse{Success: true, TokenPair: *pair})
}

// Logout requires an access token; the refresh token in the body is optional.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	phone, ok := middleware.PhoneFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req LogoutRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	if err := h.authService.Logout(r.Context(), phone, req.RefreshToken); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	phone, ok := middleware.PhoneFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	user, err := h.authService.Profile(r.Context(), phone)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

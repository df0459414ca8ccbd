package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type InsufficientTokensResponse struct {
	ErrorResponse
	CurrentBalance int64 `json:"currentBalance"`
	Required       int64 `json:"required"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// respondWithAppError maps service errors to statuses. Anything unrecognised
// is logged and reported as a generic 500.
func respondWithAppError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	if insufficient, ok := apperr.AsInsufficientBalance(err); ok {
		respondWithJSON(w, http.StatusBadRequest, InsufficientTokensResponse{
			ErrorResponse:  ErrorResponse{Code: "INSUFFICIENT_TOKENS", Message: "Insufficient tokens"},
			CurrentBalance: insufficient.Current,
			Required:       insufficient.Required,
		})
		return
	}

	var (
		verr     *apperr.ValidationError
		notFound *apperr.NotFoundError
		expired  *apperr.ExpiredError
		unauth   *apperr.UnauthorizedError
		delivery *apperr.DeliveryError
	)
	switch {
	case errors.As(err, &verr):
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: verr.Message, Fields: verr.Fields})
	case errors.As(err, &notFound):
		respondWithError(w, http.StatusNotFound, "NOT_FOUND", notFound.Error())
	case errors.As(err, &expired):
		respondWithError(w, http.StatusBadRequest, "EXPIRED", expired.Error())
	case errors.As(err, &unauth):
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", unauth.Error())
	case errors.As(err, &delivery):
		logger.WithError(err).Error("OTP delivery failed")
		respondWithError(w, http.StatusBadGateway, "OTP_DELIVERY_FAILED", "Failed to deliver OTP")
	default:
		logger.WithError(err).Error("Request failed")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// decodeRequest reads a JSON body into req and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, req interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	// an empty body falls through to field validation
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("body", "Invalid request body")
	}
	return validateRequest(req)
}

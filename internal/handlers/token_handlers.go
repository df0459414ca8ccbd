package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type TokenHandlers struct {
	ledger *service.LedgerService
	logger *logrus.Logger
}

func NewTokenHandlers(ledger *service.LedgerService, logger *logrus.Logger) *TokenHandlers {
	return &TokenHandlers{ledger: ledger, logger: logger}
}

type RechargeRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
	Amount      int64  `json:"amount" validate:"gt=0,lte=9007199254740991"`
}

type DeductRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
	Amount      int64  `json:"amount" validate:"gt=0,lte=9007199254740991"`
	Service     string `json:"service" validate:"max=100"`
}

type BalanceResponse struct {
	Success     bool   `json:"success"`
	PhoneNumber string `json:"phoneNumber"`
	Tokens      int64  `json:"tokens"`
}

type RechargeResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phoneNumber"`
	TokensAdded int64  `json:"tokensAdded"`
	NewBalance  int64  `json:"newBalance"`
}

type DeductResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	PhoneNumber    string `json:"phoneNumber"`
	TokensDeducted int64  `json:"tokensDeducted"`
	NewBalance     int64  `json:"newBalance"`
}

type HistoryResponse struct {
	Success      bool                 `json:"success"`
	PhoneNumber  string               `json:"phoneNumber"`
	Transactions []models.Transaction `json:"transactions"`
}

type PackagesResponse struct {
	Success  bool                     `json:"success"`
	Packages []models.RechargePackage `json:"packages"`
}

func (h *TokenHandlers) Balance(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phoneNumber"]

	balance, err := h.ledger.Balance(r.Context(), phone)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, BalanceResponse{Success: true, PhoneNumber: phone, Tokens: balance})
}

func (h *TokenHandlers) Recharge(w http.ResponseWriter, r *http.Request) {
	var req RechargeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	balance, err := h.ledger.Recharge(r.Context(), req.PhoneNumber, req.Amount)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, RechargeResponse{
		Success:     true,
		Message:     "Recharge successful",
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		TokensAdded: req.Amount,
		NewBalance:  balance,
	})
}

func (h *TokenHandlers) Deduct(w http.ResponseWriter, r *http.Request) {
	var req DeductRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	balance, err := h.ledger.Deduct(r.Context(), req.PhoneNumber, req.Amount, req.Service)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, DeductResponse{
		Success:        true,
		Message:        fmt.Sprintf("%d tokens deducted for %s", req.Amount, req.Service),
		PhoneNumber:    strings.TrimSpace(req.PhoneNumber),
		TokensDeducted: req.Amount,
		NewBalance:     balance,
	})
}

func (h *TokenHandlers) History(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phoneNumber"]

	txns, err := h.ledger.History(r.Context(), phone)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, HistoryResponse{Success: true, PhoneNumber: phone, Transactions: txns})
}

func (h *TokenHandlers) Packages(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, PackagesResponse{Success: true, Packages: h.ledger.Packages()})
}

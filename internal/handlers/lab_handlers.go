package handlers

import (
	"net/http"

	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type LabHandlers struct {
	labs   *service.LabService
	logger *logrus.Logger
}

func NewLabHandlers(labs *service.LabService, logger *logrus.Logger) *LabHandlers {
	return &LabHandlers{labs: labs, logger: logger}
}

type StartVoiceRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
	Topic       string `json:"topic" validate:"max=200"`
}

type StartVideoRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank,max=32"`
	AgentType   string `json:"agentType" validate:"max=200"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId" validate:"notblank"`
}

type SessionResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Session *models.LabSession `json:"session"`
}

type SessionsResponse struct {
	Success     bool                `json:"success"`
	PhoneNumber string              `json:"phoneNumber"`
	Sessions    []models.LabSession `json:"sessions"`
}

type CatalogResponse struct {
	Success bool `json:"success"`
	models.LabCatalog
}

func (h *LabHandlers) StartVoice(w http.ResponseWriter, r *http.Request) {
	var req StartVoiceRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	h.start(w, r, models.SessionVoice, req.PhoneNumber, req.Topic, "Voice lab session started")
}

func (h *LabHandlers) StartVideo(w http.ResponseWriter, r *http.Request) {
	var req StartVideoRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	h.start(w, r, models.SessionVideo, req.PhoneNumber, req.AgentType, "Video chat session started")
}

func (h *LabHandlers) start(w http.ResponseWriter, r *http.Request, kind models.SessionKind, phone, label, message string) {
	session, err := h.labs.Start(r.Context(), kind, phone, label)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SessionResponse{Success: true, Message: message, Session: session})
}

func (h *LabHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	session, err := h.labs.End(r.Context(), req.SessionID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SessionResponse{Success: true, Message: "Session ended successfully", Session: session})
}

func (h *LabHandlers) Sessions(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phoneNumber"]

	sessions, err := h.labs.ListFor(r.Context(), phone)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SessionsResponse{Success: true, PhoneNumber: phone, Sessions: sessions})
}

func (h *LabHandlers) Session(w http.ResponseWriter, r *http.Request) {
	session, err := h.labs.Get(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SessionResponse{Success: true, Session: session})
}

func (h *LabHandlers) Catalog(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, CatalogResponse{Success: true, LabCatalog: h.labs.Catalog()})
}

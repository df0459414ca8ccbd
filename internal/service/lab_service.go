package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/events"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/models"
	"github.com/edlab/edlab/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LabService records voice and video tutoring sessions. It never charges
// tokens; clients deduct through the ledger before starting a session.
type LabService struct {
	store     repository.SessionStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	catalog   models.LabCatalog
	logger    *logrus.Logger
	now       func() time.Time
}

func NewLabService(store repository.SessionStore, publisher events.Publisher, m *metrics.Metrics, logger *logrus.Logger) *LabService {
	return &LabService{
		store:     store,
		publisher: publisher,
		metrics:   m,
		catalog:   models.DefaultLabCatalog,
		logger:    logger,
		now:       time.Now,
	}
}

// Start opens an active session. label is the topic for voice sessions and
// the agent type for video sessions.
func (s *LabService) Start(ctx context.Context, kind models.SessionKind, phoneNumber, label string) (*models.LabSession, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return nil, apperr.Validation("phoneNumber", "Phone number is required")
	}
	if kind != models.SessionVoice && kind != models.SessionVideo {
		return nil, apperr.Validation("type", "Session type must be voice or video")
	}

	session := models.LabSession{
		ID:             string(kind) + "_" + uuid.New().String(),
		Type:           kind,
		PhoneNumber:    phoneNumber,
		StartTime:      s.now().UTC(),
		Status:         models.SessionActive,
		TokensRequired: s.catalog.TokensFor(kind, label),
	}
	if kind == models.SessionVideo {
		session.AgentType = label
	} else {
		session.Topic = label
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	s.metrics.SessionsStarted.WithLabelValues(string(kind)).Inc()
	s.logger.WithFields(logrus.Fields{
		"session": session.ID,
		"phone":   phoneNumber,
		"label":   label,
	}).Info("Lab session started")
	publish(ctx, s.publisher, s.logger, events.TypeSessionStarted, phoneNumber, session.StartTime, session)
	return &session, nil
}

// End completes the session. Ending twice is allowed: end time and duration
// are recomputed from the stored start time.
func (s *LabService) End(ctx context.Context, id string) (*models.LabSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("sessionId", "Session ID is required")
	}

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session.Complete(s.now().UTC())
	if err := s.store.Update(ctx, *session); err != nil {
		return nil, err
	}

	s.metrics.SessionsEnded.Inc()
	s.logger.WithFields(logrus.Fields{
		"session":  session.ID,
		"duration": *session.Duration,
	}).Info("Lab session ended")
	publish(ctx, s.publisher, s.logger, events.TypeSessionEnded, session.PhoneNumber, *session.EndTime, session)
	return session, nil
}

// ListFor returns every session of phoneNumber, newest start first.
func (s *LabService) ListFor(ctx context.Context, phoneNumber string) ([]models.LabSession, error) {
	sessions, err := s.store.ListByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	if sessions == nil {
		sessions = []models.LabSession{}
	}
	return sessions, nil
}

func (s *LabService) Get(ctx context.Context, id string) (*models.LabSession, error) {
	return s.store.Get(ctx, id)
}

func (s *LabService) Catalog() models.LabCatalog {
	return s.catalog
}

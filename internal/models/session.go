package models

import (
	"math"
	"time"
)

type SessionKind string

const (
	SessionVoice SessionKind = "voice"
	SessionVideo SessionKind = "video"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// LabSession records one voice or video tutoring session. EndTime and Duration
// stay nil until the session is completed.
type LabSession struct {
	ID             string        `json:"id" dynamodbav:"id"`
	Type           SessionKind   `json:"type" dynamodbav:"type"`
	PhoneNumber    string        `json:"phoneNumber" dynamodbav:"phone_number"`
	Topic          string        `json:"topic,omitempty" dynamodbav:"topic,omitempty"`
	AgentType      string        `json:"agentType,omitempty" dynamodbav:"agent_type,omitempty"`
	StartTime      time.Time     `json:"startTime" dynamodbav:"start_time"`
	Status         SessionStatus `json:"status" dynamodbav:"status"`
	EndTime        *time.Time    `json:"endTime,omitempty" dynamodbav:"end_time,omitempty"`
	Duration       *int64        `json:"duration,omitempty" dynamodbav:"duration,omitempty"`
	TokensRequired int64         `json:"tokensRequired" dynamodbav:"tokens_required"`
}

// Label is the topic for voice sessions and the agent for video sessions.
func (s *LabSession) Label() string {
	if s.Type == SessionVideo {
		return s.AgentType
	}
	return s.Topic
}

// Complete marks the session completed at now. Duration is recomputed from
// StartTime on every call.
func (s *LabSession) Complete(now time.Time) {
	end := now
	seconds := int64(math.Round(end.Sub(s.StartTime).Seconds()))
	s.Status = SessionCompleted
	s.EndTime = &end
	s.Duration = &seconds
}

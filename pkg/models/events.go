package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the lifecycle stage an AssessmentEvent reports.
type EventType string

const (
	EventAssessmentRequested EventType = "assessment.requested"
	EventAssessmentUpdated   EventType = "assessment.updated"
	EventAssessmentFailed    EventType = "assessment.failed"
)

// AssessmentEvent is the envelope published on the event bus (and fanned
// out to websocket subscribers and the optional Redis channel) for every
// request, fulfillment and failure.
type AssessmentEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	ProtocolID string    `json:"protocol_id,omitempty"`
	RequestID  string    `json:"request_id"`
	RiskScore  int64     `json:"risk_score,omitempty"`
	Confidence int64     `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewAssessmentEvent stamps a fresh envelope with an id and timestamp.
func NewAssessmentEvent(t EventType, protocolID, requestID string) AssessmentEvent {
	return AssessmentEvent{
		ID:         uuid.New(),
		Type:       t,
		ProtocolID: protocolID,
		RequestID:  requestID,
		Timestamp:  time.Now().UTC(),
	}
}

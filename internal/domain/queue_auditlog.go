package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type QueueEventType string

const (
	EventMemberJoined QueueEventType = "member_joined"
	EventMemberLeft   QueueEventType = "member_left"
)

type QueueAuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	CourtID   string         `bson:"court_id" json:"courtId"`
	EventType QueueEventType `bson:"event_type" json:"eventType"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// QueueAuditRepository is written by the audit worker and read by the
// history endpoint. Retention is the TTL index's job, not a method here.
type QueueAuditRepository interface {
	Log(ctx context.Context, log *QueueAuditLog) error
	GetByCourtID(ctx context.Context, courtID string, limit int) ([]QueueAuditLog, error)
	EnsureIndexes(ctx context.Context) error
}

func NewMemberJoinedLog(courtID, userID string, position, queueLength int) *QueueAuditLog {
	return &QueueAuditLog{
		ID:        uuid.NewString(),
		CourtID:   courtID,
		EventType: EventMemberJoined,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"user_id":      userID,
			"position":     position,
			"queue_length": queueLength,
		},
	}
}

func NewMemberLeftLog(courtID, userID string, queueLength int) *QueueAuditLog {
	return &QueueAuditLog{
		ID:        uuid.NewString(),
		CourtID:   courtID,
		EventType: EventMemberLeft,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"user_id":      userID,
			"queue_length": queueLength,
		},
	}
}

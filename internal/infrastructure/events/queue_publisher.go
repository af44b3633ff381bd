package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/slotline/courtqueue/internal/infrastructure/messaging"
)

// QueueEvent is the broadcast payload. Consumers treat it as opaque JSON;
// the bridge forwards the serialized form verbatim.
type QueueEvent struct {
	EventID     string `json:"eventId"`
	Type        string `json:"type"`
	CourtID     string `json:"courtId"`
	CourtName   string `json:"courtName"`
	UserID      string `json:"userId"`
	Position    int    `json:"position,omitempty"`
	QueueLength int    `json:"queueLength"`
	Timestamp   string `json:"timestamp"`
}

// Broadcaster hands serialized events to the fanout transport.
type Broadcaster interface {
	PublishMessage(ctx context.Context, body []byte) error
}

type QueuePublisher struct {
	broker Broadcaster
}

func NewQueuePublisher(broker Broadcaster) *QueuePublisher {
	return &QueuePublisher{
		broker: broker,
	}
}

func (p *QueuePublisher) PublishMemberJoined(ctx context.Context, courtID, courtName, userID string, position, queueLength int) error {
	event := QueueEvent{
		EventID:     uuid.NewString(),
		Type:        messaging.EventMemberJoined,
		CourtID:     courtID,
		CourtName:   courtName,
		UserID:      userID,
		Position:    position,
		QueueLength: queueLength,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	return p.publish(ctx, event)
}

func (p *QueuePublisher) PublishMemberLeft(ctx context.Context, courtID, courtName, userID string, queueLength int) error {
	event := QueueEvent{
		EventID:     uuid.NewString(),
		Type:        messaging.EventMemberLeft,
		CourtID:     courtID,
		CourtName:   courtName,
		UserID:      userID,
		QueueLength: queueLength,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	return p.publish(ctx, event)
}

func (p *QueuePublisher) publish(ctx context.Context, event QueueEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.broker.PublishMessage(ctx, body)
}

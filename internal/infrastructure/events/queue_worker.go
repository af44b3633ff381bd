package events

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/messaging"
)

// Consumer is the durable side of the broker handle.
type Consumer interface {
	DeclareDurableQueue(queueName string) error
	ConsumeMessages(ctx context.Context, queueName string, handler func(ctx context.Context, msg amqp.Delivery) error) error
}

// QueueWorker is the durable-subscription consumer: it records every
// broadcast event as an audit log document. Live bridges never depend on
// it; its durable queue just means it catches up after a restart.
type QueueWorker struct {
	broker    Consumer
	auditRepo domain.QueueAuditRepository
	queueName string
	logger    logging.Logger
	processed func()
}

func NewQueueWorker(broker Consumer, auditRepo domain.QueueAuditRepository, queueName string, logger logging.Logger, processed func()) *QueueWorker {
	return &QueueWorker{
		broker:    broker,
		auditRepo: auditRepo,
		queueName: queueName,
		logger:    logger,
		processed: processed,
	}
}

func (w *QueueWorker) Listen(ctx context.Context) error {
	if err := w.broker.DeclareDurableQueue(w.queueName); err != nil {
		return err
	}

	w.logger.Info(logging.RabbitMQ, logging.Worker, "audit worker listening", map[logging.ExtraKey]any{
		"queue": w.queueName,
	})

	return w.broker.ConsumeMessages(ctx, w.queueName, w.handle)
}

func (w *QueueWorker) handle(ctx context.Context, msg amqp.Delivery) error {
	var event QueueEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.logger.Error(logging.RabbitMQ, logging.Worker, "failed to unmarshal event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	var auditLog *domain.QueueAuditLog
	switch event.Type {
	case messaging.EventMemberJoined:
		auditLog = domain.NewMemberJoinedLog(event.CourtID, event.UserID, event.Position, event.QueueLength)
	case messaging.EventMemberLeft:
		auditLog = domain.NewMemberLeftLog(event.CourtID, event.UserID, event.QueueLength)
	default:
		// Unknown event types are logged and acknowledged, not retried.
		w.logger.Warn(logging.RabbitMQ, logging.Worker, "skipping unknown event type", map[logging.ExtraKey]any{
			"type": event.Type,
		})
		return nil
	}

	if err := w.auditRepo.Log(ctx, auditLog); err != nil {
		return err
	}

	if w.processed != nil {
		w.processed()
	}

	w.logger.Debug(logging.RabbitMQ, logging.Worker, "audit event recorded", map[logging.ExtraKey]any{
		logging.CourtID: event.CourtID,
		"event_type":    string(auditLog.EventType),
	})

	return nil
}

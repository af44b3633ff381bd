package repository

import (
	"context"

	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type queueAuditLogRepository struct {
	db *mongo.Database
}

func NewQueueAuditLogRepository(database *mongo.Database) domain.QueueAuditRepository {
	return &queueAuditLogRepository{
		db: database,
	}
}

func (r *queueAuditLogRepository) Log(ctx context.Context, log *domain.QueueAuditLog) error {
	collection := r.db.Collection(db.QueueAuditLogsCollection)

	_, err := collection.InsertOne(ctx, log)
	return err
}

func (r *queueAuditLogRepository) GetByCourtID(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
	collection := r.db.Collection(db.QueueAuditLogsCollection)

	filter := bson.M{"court_id": courtID}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []domain.QueueAuditLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}

	return logs, nil
}

func (r *queueAuditLogRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.QueueAuditLogsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "court_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(7776000), // 90 days TTL
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

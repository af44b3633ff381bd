package repository

import (
	"context"
	"errors"
	"time"

	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type courtQueueRepository struct {
	db *mongo.Database
}

func NewCourtQueueRepository(database *mongo.Database) domain.QueueRepository {
	return &courtQueueRepository{
		db: database,
	}
}

func (r *courtQueueRepository) GetByCourtID(ctx context.Context, courtID string) (*domain.CourtQueue, error) {
	collection := r.db.Collection(db.CourtQueuesCollection)

	var queue domain.CourtQueue
	err := collection.FindOne(ctx, bson.M{"court_id": courtID}).Decode(&queue)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrQueueNotFound
		}
		return nil, err
	}

	return &queue, nil
}

func (r *courtQueueRepository) GetAll(ctx context.Context) ([]domain.CourtQueue, error) {
	collection := r.db.Collection(db.CourtQueuesCollection)

	opts := options.Find().SetSort(bson.D{{Key: "court_id", Value: 1}})

	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var queues []domain.CourtQueue
	if err := cursor.All(ctx, &queues); err != nil {
		return nil, err
	}

	return queues, nil
}

func (r *courtQueueRepository) Create(ctx context.Context, queue *domain.CourtQueue) error {
	collection := r.db.Collection(db.CourtQueuesCollection)

	_, err := collection.InsertOne(ctx, queue)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrQueueExists
		}
		return err
	}

	return nil
}

// Update replaces the document only when the stored version still matches
// queue.Version. A stale token matches nothing, which surfaces a concurrent
// writer as ErrVersionConflict instead of silently clobbering its renumbering.
func (r *courtQueueRepository) Update(ctx context.Context, queue *domain.CourtQueue) error {
	collection := r.db.Collection(db.CourtQueuesCollection)

	filter := bson.M{
		"court_id": queue.CourtID,
		"version":  queue.Version,
	}

	update := bson.M{
		"$set": bson.M{
			"court_name": queue.CourtName,
			"entries":    queue.Entries,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrVersionConflict
	}

	queue.Version++
	return nil
}

func (r *courtQueueRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(db.CourtQueuesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "court_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

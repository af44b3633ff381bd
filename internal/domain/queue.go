package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCourtNotFound   = errors.New("court not found")
	ErrQueueNotFound   = errors.New("queue not found")
	ErrQueueExists     = errors.New("queue already exists")
	ErrVersionConflict = errors.New("queue was modified concurrently")
	ErrAlreadyQueued   = errors.New("user already queued")
	ErrNotQueued       = errors.New("user not in queue")
	ErrInvalidArgument = errors.New("invalid argument")
)

// QueueEntry is one waiting user. Position is 1-based and always matches
// the entry's index in the queue.
type QueueEntry struct {
	UserID   string    `bson:"user_id" json:"userId"`
	UserName string    `bson:"user_name" json:"userName"`
	TeamID   string    `bson:"team_id,omitempty" json:"teamId,omitempty"`
	Position int       `bson:"position" json:"position"`
	JoinedAt time.Time `bson:"joined_at" json:"joinedAt"`
}

// CourtQueue is the per-court aggregate: an ordered waiting list stored as a
// single document. Version is the optimistic-concurrency token; every
// persisted mutation increments it.
type CourtQueue struct {
	CourtID   string       `bson:"court_id" json:"courtId"`
	CourtName string       `bson:"court_name" json:"courtName"`
	Entries   []QueueEntry `bson:"entries" json:"entries"`
	Version   int64        `bson:"version" json:"-"`
	CreatedAt time.Time    `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `bson:"updated_at" json:"updatedAt"`
}

func NewCourtQueue(courtID, courtName string) *CourtQueue {
	now := time.Now().UTC()
	return &CourtQueue{
		CourtID:   courtID,
		CourtName: courtName,
		Entries:   []QueueEntry{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Find returns the entry for userID, or nil.
func (q *CourtQueue) Find(userID string) *QueueEntry {
	for i := range q.Entries {
		if q.Entries[i].UserID == userID {
			return &q.Entries[i]
		}
	}
	return nil
}

// Append adds a new entry at the tail. Returns ErrAlreadyQueued (and the
// existing entry) when userID is already present; the queue is unchanged.
func (q *CourtQueue) Append(userID, userName, teamID string) (QueueEntry, error) {
	if existing := q.Find(userID); existing != nil {
		return *existing, ErrAlreadyQueued
	}

	entry := QueueEntry{
		UserID:   userID,
		UserName: userName,
		TeamID:   teamID,
		Position: len(q.Entries) + 1,
		JoinedAt: time.Now().UTC(),
	}

	q.Entries = append(q.Entries, entry)
	q.UpdatedAt = time.Now().UTC()
	return entry, nil
}

// Remove deletes userID's entry and renumbers the remaining entries to a
// contiguous 1-based sequence, preserving relative order (stable delete).
// Returns ErrNotQueued when userID is absent; the queue is unchanged.
func (q *CourtQueue) Remove(userID string) error {
	idx := -1
	for i := range q.Entries {
		if q.Entries[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotQueued
	}

	q.Entries = append(q.Entries[:idx], q.Entries[idx+1:]...)
	for i := range q.Entries {
		q.Entries[i].Position = i + 1
	}
	q.UpdatedAt = time.Now().UTC()
	return nil
}

func (q *CourtQueue) Length() int {
	return len(q.Entries)
}

// QueueRepository is the durable store: one document per court.
type QueueRepository interface {
	GetByCourtID(ctx context.Context, courtID string) (*CourtQueue, error)
	GetAll(ctx context.Context) ([]CourtQueue, error)
	// Create inserts a new queue document; ErrQueueExists when a document
	// for the court is already present.
	Create(ctx context.Context, queue *CourtQueue) error
	// Update persists the queue only if the stored version still matches
	// queue.Version, then increments it. ErrVersionConflict otherwise.
	Update(ctx context.Context, queue *CourtQueue) error
	EnsureIndexes(ctx context.Context) error
}

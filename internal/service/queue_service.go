package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slotline/courtqueue/internal/courts"
	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/metrics"
	"github.com/slotline/courtqueue/internal/infrastructure/validate"
)

const (
	// Attempts per read-modify-write before giving up on a contended court.
	maxWriteAttempts = 4

	// Deadline for the fire-and-forget broadcast after a mutation commits.
	publishTimeout = 5 * time.Second

	unknownCourtName = "Unknown"
)

// QueueView is the caller-facing projection of a court queue.
type QueueView struct {
	CourtID         string              `json:"courtId"`
	CourtName       string              `json:"courtName"`
	QueueLength     int                 `json:"queueLength"`
	Users           []domain.QueueEntry `json:"users"`
	AverageWaitTime int                 `json:"averageWaitTime"`
}

// QueueActionResult is the response to join and leave calls. Success=false
// with a message is a business outcome (duplicate join, absent leave), not
// an error.
type QueueActionResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Position          int    `json:"position"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"`
}

// NotificationPublisher is the fire-and-forget broadcast side channel.
type NotificationPublisher interface {
	PublishMemberJoined(ctx context.Context, courtID, courtName, userID string, position, queueLength int) error
	PublishMemberLeft(ctx context.Context, courtID, courtName, userID string, queueLength int) error
}

type QueueService struct {
	queues      domain.QueueRepository
	courts      courts.Lookup
	publisher   NotificationPublisher
	logger      logging.Logger
	metrics     *metrics.Metrics
	slotMinutes int

	validateCourtID  validate.Validator
	validateUserID   validate.Validator
	validateUserName validate.Validator
	validateTeamID   validate.Validator
}

func NewQueueService(
	queues domain.QueueRepository,
	courtLookup courts.Lookup,
	publisher NotificationPublisher,
	logger logging.Logger,
	m *metrics.Metrics,
	slotMinutes int,
) *QueueService {
	if slotMinutes <= 0 {
		slotMinutes = 30
	}

	return &QueueService{
		queues:      queues,
		courts:      courtLookup,
		publisher:   publisher,
		logger:      logger,
		metrics:     m,
		slotMinutes: slotMinutes,

		validateCourtID:  validate.Field("courtId", validate.Required(), validate.NoSpaces(), validate.MaxLength(64)),
		validateUserID:   validate.Field("userId", validate.Required(), validate.NoSpaces(), validate.MaxLength(64)),
		validateUserName: validate.Field("userName", validate.Required(), validate.MaxLength(100)),
		validateTeamID:   validate.Field("teamId", validate.Optional(validate.NoSpaces(), validate.MaxLength(64))),
	}
}

// GetAllQueues returns a view of every court queue that has ever been
// created, including the empty ones.
func (s *QueueService) GetAllQueues(ctx context.Context) ([]QueueView, error) {
	queues, err := s.queues.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]QueueView, 0, len(queues))
	for i := range queues {
		views = append(views, s.viewOf(&queues[i]))
	}

	return views, nil
}

// GetQueueStatusForCourt never fails on an absent queue: a court nobody has
// joined yet reads as an empty view.
func (s *QueueService) GetQueueStatusForCourt(ctx context.Context, courtID string) (QueueView, error) {
	if err := s.validateCourtID(courtID); err != nil {
		return QueueView{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	queue, err := s.queues.GetByCourtID(ctx, courtID)
	if err != nil {
		if errors.Is(err, domain.ErrQueueNotFound) {
			return QueueView{
				CourtID:   courtID,
				CourtName: unknownCourtName,
				Users:     []domain.QueueEntry{},
			}, nil
		}
		return QueueView{}, err
	}

	return s.viewOf(queue), nil
}

// EnterCourtQueue appends the user to the court's waiting list. The queue
// document is created lazily on first join, after the courts service
// confirms the court exists.
func (s *QueueService) EnterCourtQueue(ctx context.Context, courtID, userID, userName, teamID string) (QueueActionResult, error) {
	if err := s.validateJoin(courtID, userID, userName, teamID); err != nil {
		return QueueActionResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	found, courtName, err := s.courts.Exists(ctx, courtID)
	if err != nil {
		s.logger.Warn(logging.Courts, logging.ExternalService, "court lookup failed", map[logging.ExtraKey]any{
			logging.CourtID:      courtID,
			logging.ErrorMessage: err.Error(),
		})
		return QueueActionResult{}, domain.ErrCourtNotFound
	}
	if !found {
		return QueueActionResult{}, domain.ErrCourtNotFound
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		queue, err := s.queues.GetByCourtID(ctx, courtID)
		if errors.Is(err, domain.ErrQueueNotFound) {
			queue = domain.NewCourtQueue(courtID, courtName)
			entry, _ := queue.Append(userID, userName, teamID)

			if err := s.queues.Create(ctx, queue); err != nil {
				if errors.Is(err, domain.ErrQueueExists) {
					// Another writer created the document first; re-read it.
					s.metrics.VersionConflicts.Inc()
					continue
				}
				return QueueActionResult{}, err
			}

			s.afterJoin(queue, entry)
			return s.acceptedJoin(entry), nil
		}
		if err != nil {
			return QueueActionResult{}, err
		}

		if existing := queue.Find(userID); existing != nil {
			s.metrics.QueueJoins.WithLabelValues("duplicate").Inc()
			return QueueActionResult{
				Success:           false,
				Message:           "already queued",
				Position:          existing.Position,
				EstimatedWaitTime: existing.Position * s.slotMinutes,
			}, nil
		}

		entry, _ := queue.Append(userID, userName, teamID)

		if err := s.queues.Update(ctx, queue); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.metrics.VersionConflicts.Inc()
				continue
			}
			return QueueActionResult{}, err
		}

		s.afterJoin(queue, entry)
		return s.acceptedJoin(entry), nil
	}

	return QueueActionResult{}, fmt.Errorf("join on court %s: %w", courtID, domain.ErrVersionConflict)
}

// LeaveCourtQueue removes the user and renumbers everyone behind them.
func (s *QueueService) LeaveCourtQueue(ctx context.Context, courtID, userID string) (QueueActionResult, error) {
	if err := s.validateCourtID(courtID); err != nil {
		return QueueActionResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := s.validateUserID(userID); err != nil {
		return QueueActionResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		queue, err := s.queues.GetByCourtID(ctx, courtID)
		if err != nil {
			return QueueActionResult{}, err
		}

		if err := queue.Remove(userID); err != nil {
			s.metrics.QueueLeaves.WithLabelValues("absent").Inc()
			return QueueActionResult{
				Success:  false,
				Message:  "not queued",
				Position: 0,
			}, nil
		}

		if err := s.queues.Update(ctx, queue); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.metrics.VersionConflicts.Inc()
				continue
			}
			return QueueActionResult{}, err
		}

		s.afterLeave(queue, userID)
		return QueueActionResult{
			Success:  true,
			Message:  "left queue",
			Position: 0,
		}, nil
	}

	return QueueActionResult{}, fmt.Errorf("leave on court %s: %w", courtID, domain.ErrVersionConflict)
}

func (s *QueueService) viewOf(queue *domain.CourtQueue) QueueView {
	users := queue.Entries
	if users == nil {
		users = []domain.QueueEntry{}
	}

	return QueueView{
		CourtID:         queue.CourtID,
		CourtName:       queue.CourtName,
		QueueLength:     queue.Length(),
		Users:           users,
		AverageWaitTime: queue.Length() * s.slotMinutes,
	}
}

func (s *QueueService) acceptedJoin(entry domain.QueueEntry) QueueActionResult {
	s.metrics.QueueJoins.WithLabelValues("accepted").Inc()
	return QueueActionResult{
		Success:           true,
		Message:           "joined queue",
		Position:          entry.Position,
		EstimatedWaitTime: entry.Position * s.slotMinutes,
	}
}

// afterJoin kicks off the broadcast without tying its outcome to the
// request: a broker failure is logged and discarded, never surfaced.
func (s *QueueService) afterJoin(queue *domain.CourtQueue, entry domain.QueueEntry) {
	courtID, courtName, length := queue.CourtID, queue.CourtName, queue.Length()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.publisher.PublishMemberJoined(ctx, courtID, courtName, entry.UserID, entry.Position, length); err != nil {
			s.metrics.PublishFailures.Inc()
			s.logger.Error(logging.Queue, logging.Broadcast, "failed to publish join event", map[logging.ExtraKey]any{
				logging.CourtID:      courtID,
				logging.UserID:       entry.UserID,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		s.metrics.EventsPublished.Inc()
	}()
}

func (s *QueueService) afterLeave(queue *domain.CourtQueue, userID string) {
	s.metrics.QueueLeaves.WithLabelValues("accepted").Inc()
	courtID, courtName, length := queue.CourtID, queue.CourtName, queue.Length()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.publisher.PublishMemberLeft(ctx, courtID, courtName, userID, length); err != nil {
			s.metrics.PublishFailures.Inc()
			s.logger.Error(logging.Queue, logging.Broadcast, "failed to publish leave event", map[logging.ExtraKey]any{
				logging.CourtID:      courtID,
				logging.UserID:       userID,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		s.metrics.EventsPublished.Inc()
	}()
}

func (s *QueueService) validateJoin(courtID, userID, userName, teamID string) error {
	if err := s.validateCourtID(courtID); err != nil {
		return err
	}
	if err := s.validateUserID(userID); err != nil {
		return err
	}
	if err := s.validateUserName(userName); err != nil {
		return err
	}
	return s.validateTeamID(teamID)
}

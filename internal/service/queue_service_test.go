package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/metrics"
)

// memoryQueueRepository emulates the store's versioned single-document
// semantics, including conflict detection on stale tokens.
type memoryQueueRepository struct {
	mu     sync.Mutex
	queues map[string]*domain.CourtQueue

	updateHook func(queue *domain.CourtQueue) error
	getErr     error
}

func newMemoryQueueRepository() *memoryQueueRepository {
	return &memoryQueueRepository{queues: make(map[string]*domain.CourtQueue)}
}

func cloneQueue(q *domain.CourtQueue) *domain.CourtQueue {
	cp := *q
	cp.Entries = append([]domain.QueueEntry(nil), q.Entries...)
	return &cp
}

func (m *memoryQueueRepository) GetByCourtID(ctx context.Context, courtID string) (*domain.CourtQueue, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[courtID]
	if !ok {
		return nil, domain.ErrQueueNotFound
	}
	return cloneQueue(q), nil
}

func (m *memoryQueueRepository) GetAll(ctx context.Context) ([]domain.CourtQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]domain.CourtQueue, 0, len(m.queues))
	for _, q := range m.queues {
		all = append(all, *cloneQueue(q))
	}
	return all, nil
}

func (m *memoryQueueRepository) Create(ctx context.Context, queue *domain.CourtQueue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queue.CourtID]; ok {
		return domain.ErrQueueExists
	}
	m.queues[queue.CourtID] = cloneQueue(queue)
	return nil
}

func (m *memoryQueueRepository) Update(ctx context.Context, queue *domain.CourtQueue) error {
	if m.updateHook != nil {
		if err := m.updateHook(queue); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.queues[queue.CourtID]
	if !ok || stored.Version != queue.Version {
		return domain.ErrVersionConflict
	}

	queue.Version++
	m.queues[queue.CourtID] = cloneQueue(queue)
	return nil
}

func (m *memoryQueueRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

type mockCourtLookup struct {
	existsFunc func(ctx context.Context, courtID string) (bool, string, error)
}

func (m *mockCourtLookup) Exists(ctx context.Context, courtID string) (bool, string, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, courtID)
	}
	return true, "Court " + courtID, nil
}

// mockPublisher records publishes and signals each one, so tests can wait
// for the asynchronous broadcast deterministically.
type mockPublisher struct {
	mu        sync.Mutex
	published []string
	signal    chan struct{}
	err       error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{signal: make(chan struct{}, 16)}
}

func (m *mockPublisher) record(kind string) error {
	m.mu.Lock()
	m.published = append(m.published, kind)
	m.mu.Unlock()
	m.signal <- struct{}{}
	return m.err
}

func (m *mockPublisher) PublishMemberJoined(ctx context.Context, courtID, courtName, userID string, position, queueLength int) error {
	return m.record("joined:" + userID)
}

func (m *mockPublisher) PublishMemberLeft(ctx context.Context, courtID, courtName, userID string, queueLength int) error {
	return m.record("left:" + userID)
}

func (m *mockPublisher) waitForPublish(t *testing.T) {
	t.Helper()
	select {
	case <-m.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		FilePath: "/tmp/",
		Encoding: "json",
		Level:    "fatal",
		Logger:   "zap",
	})
}

type fixture struct {
	repo      *memoryQueueRepository
	lookup    *mockCourtLookup
	publisher *mockPublisher
	svc       *QueueService
}

func newFixture() *fixture {
	repo := newMemoryQueueRepository()
	lookup := &mockCourtLookup{}
	publisher := newMockPublisher()
	svc := NewQueueService(repo, lookup, publisher, testLogger(), metrics.New(prometheus.NewRegistry()), 30)

	return &fixture{repo: repo, lookup: lookup, publisher: publisher, svc: svc}
}

func TestJoinAssignsSequentialPositions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		res, err := f.svc.EnterCourtQueue(ctx, "court-1", fmt.Sprintf("user-%d", i), fmt.Sprintf("User %d", i), "")
		if err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
		if !res.Success {
			t.Fatalf("join %d not accepted: %+v", i, res)
		}
		if res.Position != i {
			t.Fatalf("join %d got position %d", i, res.Position)
		}
		if res.EstimatedWaitTime != i*30 {
			t.Fatalf("join %d got estimated wait %d, want %d", i, res.EstimatedWaitTime, i*30)
		}
		f.publisher.waitForPublish(t)
	}

	view, err := f.svc.GetQueueStatusForCourt(ctx, "court-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if view.QueueLength != 4 {
		t.Fatalf("queue length = %d, want 4", view.QueueLength)
	}
	for i, u := range view.Users {
		if u.Position != i+1 {
			t.Fatalf("user %d has position %d", i, u.Position)
		}
	}
}

func TestJoinUnknownCourt(t *testing.T) {
	f := newFixture()
	f.lookup.existsFunc = func(ctx context.Context, courtID string) (bool, string, error) {
		return false, "", nil
	}

	_, err := f.svc.EnterCourtQueue(context.Background(), "ghost", "alice", "Alice", "")
	if !errors.Is(err, domain.ErrCourtNotFound) {
		t.Fatalf("expected ErrCourtNotFound, got %v", err)
	}
}

func TestJoinLookupUnavailable(t *testing.T) {
	f := newFixture()
	f.lookup.existsFunc = func(ctx context.Context, courtID string) (bool, string, error) {
		return false, "", errors.New("connection refused")
	}

	_, err := f.svc.EnterCourtQueue(context.Background(), "court-1", "alice", "Alice", "")
	if !errors.Is(err, domain.ErrCourtNotFound) {
		t.Fatalf("lookup failure must map to ErrCourtNotFound, got %v", err)
	}
}

func TestJoinDuplicateIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.EnterCourtQueue(ctx, "court-1", "alice", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	f.publisher.waitForPublish(t)
	if _, err := f.svc.EnterCourtQueue(ctx, "court-1", "bob", "Bob", ""); err != nil {
		t.Fatal(err)
	}
	f.publisher.waitForPublish(t)

	res, err := f.svc.EnterCourtQueue(ctx, "court-1", "alice", "Alice", "")
	if err != nil {
		t.Fatalf("duplicate join errored: %v", err)
	}
	if res.Success {
		t.Fatal("duplicate join must not be accepted")
	}
	if res.Message != "already queued" {
		t.Fatalf("message = %q", res.Message)
	}
	if res.Position != 1 {
		t.Fatalf("duplicate join returned position %d, want existing position 1", res.Position)
	}

	view, _ := f.svc.GetQueueStatusForCourt(ctx, "court-1")
	if view.QueueLength != 2 {
		t.Fatalf("duplicate join mutated the queue: length %d", view.QueueLength)
	}
}

func TestLeaveRenumbersRemaining(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := f.svc.EnterCourtQueue(ctx, "court-1", u, u, ""); err != nil {
			t.Fatal(err)
		}
		f.publisher.waitForPublish(t)
	}

	res, err := f.svc.LeaveCourtQueue(ctx, "court-1", "a")
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if !res.Success || res.Position != 0 || res.EstimatedWaitTime != 0 {
		t.Fatalf("unexpected leave result: %+v", res)
	}
	f.publisher.waitForPublish(t)

	view, _ := f.svc.GetQueueStatusForCourt(ctx, "court-1")
	if view.QueueLength != 2 {
		t.Fatalf("queue length = %d, want 2", view.QueueLength)
	}
	if view.Users[0].UserID != "b" || view.Users[0].Position != 1 {
		t.Fatalf("head is %s/%d, want b/1", view.Users[0].UserID, view.Users[0].Position)
	}
	if view.Users[1].UserID != "c" || view.Users[1].Position != 2 {
		t.Fatalf("tail is %s/%d, want c/2", view.Users[1].UserID, view.Users[1].Position)
	}
}

func TestLeaveNoQueue(t *testing.T) {
	f := newFixture()

	_, err := f.svc.LeaveCourtQueue(context.Background(), "never-joined", "alice")
	if !errors.Is(err, domain.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestLeaveAbsentUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.EnterCourtQueue(ctx, "court-1", "alice", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	f.publisher.waitForPublish(t)

	res, err := f.svc.LeaveCourtQueue(ctx, "court-1", "stranger")
	if err != nil {
		t.Fatalf("absent leave errored: %v", err)
	}
	if res.Success {
		t.Fatal("absent leave must not be accepted")
	}
	if res.Message != "not queued" || res.Position != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	view, _ := f.svc.GetQueueStatusForCourt(ctx, "court-1")
	if view.QueueLength != 1 {
		t.Fatalf("absent leave mutated the queue: length %d", view.QueueLength)
	}
}

func TestStatusWithoutQueueIsEmptyView(t *testing.T) {
	f := newFixture()

	view, err := f.svc.GetQueueStatusForCourt(context.Background(), "fresh-court")
	if err != nil {
		t.Fatalf("status must never fail on an absent queue: %v", err)
	}
	if view.CourtID != "fresh-court" || view.CourtName != "Unknown" {
		t.Fatalf("unexpected synthesized view: %+v", view)
	}
	if view.QueueLength != 0 || len(view.Users) != 0 || view.Users == nil {
		t.Fatalf("expected empty non-nil users, got %+v", view.Users)
	}
}

// Scenario from the product flow: A joins, B joins, A leaves; B is now at
// the head with position 1.
func TestJoinJoinLeaveScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resA, _ := f.svc.EnterCourtQueue(ctx, "court-R", "A", "Alice", "")
	f.publisher.waitForPublish(t)
	resB, _ := f.svc.EnterCourtQueue(ctx, "court-R", "B", "Bob", "")
	f.publisher.waitForPublish(t)

	if !resA.Success || resA.Position != 1 {
		t.Fatalf("A join: %+v", resA)
	}
	if !resB.Success || resB.Position != 2 {
		t.Fatalf("B join: %+v", resB)
	}

	resLeave, err := f.svc.LeaveCourtQueue(ctx, "court-R", "A")
	if err != nil || !resLeave.Success || resLeave.Position != 0 {
		t.Fatalf("A leave: %+v err=%v", resLeave, err)
	}
	f.publisher.waitForPublish(t)

	view, _ := f.svc.GetQueueStatusForCourt(ctx, "court-R")
	if view.QueueLength != 1 {
		t.Fatalf("queue length = %d, want 1", view.QueueLength)
	}
	if view.Users[0].UserID != "B" || view.Users[0].Position != 1 {
		t.Fatalf("expected B at position 1, got %s/%d", view.Users[0].UserID, view.Users[0].Position)
	}
}

func TestJoinRetriesOnVersionConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.EnterCourtQueue(ctx, "court-1", "alice", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	f.publisher.waitForPublish(t)

	// First update attempt observes a stale token, as if another instance
	// committed in between; the retry must succeed.
	conflicts := 0
	f.repo.updateHook = func(queue *domain.CourtQueue) error {
		if conflicts == 0 {
			conflicts++
			return domain.ErrVersionConflict
		}
		return nil
	}

	res, err := f.svc.EnterCourtQueue(ctx, "court-1", "bob", "Bob", "")
	if err != nil {
		t.Fatalf("join failed despite retry: %v", err)
	}
	if !res.Success || res.Position != 2 {
		t.Fatalf("unexpected result after retry: %+v", res)
	}
	if conflicts != 1 {
		t.Fatalf("expected one conflict, saw %d", conflicts)
	}
}

func TestJoinGivesUpAfterSustainedConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.EnterCourtQueue(ctx, "court-1", "alice", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	f.publisher.waitForPublish(t)

	f.repo.updateHook = func(queue *domain.CourtQueue) error {
		return domain.ErrVersionConflict
	}

	_, err := f.svc.EnterCourtQueue(ctx, "court-1", "bob", "Bob", "")
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict after exhausted retries, got %v", err)
	}
}

func TestBroadcastFailureDoesNotFailJoin(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker unreachable")

	res, err := f.svc.EnterCourtQueue(context.Background(), "court-1", "alice", "Alice", "")
	if err != nil {
		t.Fatalf("join must not fail on broadcast error: %v", err)
	}
	if !res.Success {
		t.Fatalf("join not accepted: %+v", res)
	}
	f.publisher.waitForPublish(t)
}

func TestInvalidArguments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name                            string
		courtID, userID, userName, team string
	}{
		{"blank court", "", "alice", "Alice", ""},
		{"blank user", "court-1", "", "Alice", ""},
		{"blank name", "court-1", "alice", "", ""},
		{"court with spaces", "court 1", "alice", "Alice", ""},
		{"team with spaces", "court-1", "alice", "Alice", "team one"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.EnterCourtQueue(ctx, tc.courtID, tc.userID, tc.userName, tc.team)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	if _, err := f.svc.LeaveCourtQueue(ctx, "court-1", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank leave user, got %v", err)
	}
}

func TestGetAllQueues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, court := range []string{"court-1", "court-2"} {
		if _, err := f.svc.EnterCourtQueue(ctx, court, "alice", "Alice", ""); err != nil {
			t.Fatal(err)
		}
		f.publisher.waitForPublish(t)
	}

	views, err := f.svc.GetAllQueues(ctx)
	if err != nil {
		t.Fatalf("GetAllQueues failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	for _, v := range views {
		if v.QueueLength != 1 || v.AverageWaitTime != 30 {
			t.Fatalf("unexpected view: %+v", v)
		}
	}
}

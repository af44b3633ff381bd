package queues

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/slotline/courtqueue/internal/domain"
)

type mockAuditRepository struct {
	getFunc func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error)
}

func (m *mockAuditRepository) Log(ctx context.Context, log *domain.QueueAuditLog) error {
	return nil
}

func (m *mockAuditRepository) GetByCourtID(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
	return m.getFunc(ctx, courtID, limit)
}

func (m *mockAuditRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func historyRouter(repo *mockAuditRepository) http.Handler {
	handler := NewHandler(nil, repo)

	r := chi.NewRouter()
	r.Get("/api/queues/{courtId}/history", handler.GetQueueHistoryHandler)
	return r
}

func TestGetQueueHistoryReturnsEvents(t *testing.T) {
	var gotCourtID string
	var gotLimit int

	repo := &mockAuditRepository{
		getFunc: func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
			gotCourtID = courtID
			gotLimit = limit
			return []domain.QueueAuditLog{
				{ID: "a1", CourtID: courtID, EventType: domain.EventMemberJoined, Timestamp: time.Now()},
				{ID: "a2", CourtID: courtID, EventType: domain.EventMemberLeft, Timestamp: time.Now()},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/queues/court-1/history", nil)
	historyRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotCourtID != "court-1" {
		t.Errorf("court id = %q", gotCourtID)
	}
	if gotLimit != defaultHistoryLimit {
		t.Errorf("limit = %d, want default %d", gotLimit, defaultHistoryLimit)
	}

	var resp struct {
		Events []domain.QueueAuditLog `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
}

func TestGetQueueHistoryCapsLimit(t *testing.T) {
	var gotLimit int
	repo := &mockAuditRepository{
		getFunc: func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/queues/court-1/history?limit=10000", nil)
	historyRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotLimit != maxHistoryLimit {
		t.Errorf("limit = %d, want cap %d", gotLimit, maxHistoryLimit)
	}
}

func TestGetQueueHistoryRejectsBadLimit(t *testing.T) {
	repo := &mockAuditRepository{
		getFunc: func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
			t.Fatal("repository must not be called for an invalid limit")
			return nil, nil
		},
	}

	for _, limit := range []string{"abc", "0", "-5"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/queues/court-1/history?limit="+limit, nil)
		historyRouter(repo).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestGetQueueHistoryEmptyIsAnArray(t *testing.T) {
	repo := &mockAuditRepository{
		getFunc: func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
			return nil, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/queues/court-9/history", nil)
	historyRouter(repo).ServeHTTP(rec, req)

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(resp["events"]) != "[]" {
		t.Fatalf("events = %s, want []", resp["events"])
	}
}

func TestGetQueueHistoryRepositoryError(t *testing.T) {
	repo := &mockAuditRepository{
		getFunc: func(ctx context.Context, courtID string, limit int) ([]domain.QueueAuditLog, error) {
			return nil, errors.New("mongo down")
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/queues/court-1/history", nil)
	historyRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

package queues

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/infrastructure/json"
	"github.com/slotline/courtqueue/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Handler struct {
	queueService *service.QueueService
	auditLogs    domain.QueueAuditRepository
}

func NewHandler(queueService *service.QueueService, auditLogs domain.QueueAuditRepository) *Handler {
	return &Handler{
		queueService: queueService,
		auditLogs:    auditLogs,
	}
}

// GetAllQueuesHandler godoc
// @Summary      List all court queues
// @Description  Returns every court queue with its length and estimated wait
// @Tags         queues
// @Produce      json
// @Success      200 {object} getAllQueuesResponse
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /queues [get]
func (h *Handler) GetAllQueuesHandler(w http.ResponseWriter, r *http.Request) {
	views, err := h.queueService.GetAllQueues(r.Context())
	if err != nil {
		log.Printf("Failed to list queues: %v", err)
		json.WriteInternalError(w, err)
		return
	}

	json.Write(w, http.StatusOK, getAllQueuesResponse{Queues: views})
}

// GetQueueStatusHandler godoc
// @Summary      Queue status for one court
// @Description  Returns the waiting list for a court; courts with no queue yet read as empty
// @Tags         queues
// @Produce      json
// @Param        courtId path string true "Court ID"
// @Success      200 {object} service.QueueView
// @Failure      400 {object} map[string]interface{} "Invalid court ID"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /queues/{courtId} [get]
func (h *Handler) GetQueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	courtID := chi.URLParam(r, "courtId")

	view, err := h.queueService.GetQueueStatusForCourt(r.Context(), courtID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			json.WriteValidationError(w, err)
		default:
			log.Printf("Failed to load queue status for court %s: %v", courtID, err)
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusOK, view)
}

// JoinQueueHandler godoc
// @Summary      Join a court's waiting queue
// @Description  Appends the user at the tail of the queue; duplicate joins return the existing position
// @Tags         queues
// @Accept       json
// @Produce      json
// @Param        courtId path string true "Court ID"
// @Param        request body joinQueueRequest true "Join parameters"
// @Success      200 {object} service.QueueActionResult
// @Failure      400 {object} map[string]interface{} "Invalid input"
// @Failure      404 {object} map[string]interface{} "Court not found"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /queues/{courtId}/join [post]
func (h *Handler) JoinQueueHandler(w http.ResponseWriter, r *http.Request) {
	courtID := chi.URLParam(r, "courtId")

	var req joinQueueRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	result, err := h.queueService.EnterCourtQueue(r.Context(), courtID, req.UserID, req.UserName, req.TeamID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			json.WriteValidationError(w, err)
		case errors.Is(err, domain.ErrCourtNotFound):
			json.WriteError(w, http.StatusNotFound, err, "Court not found")
		default:
			log.Printf("Join failed for court %s: %v", courtID, err)
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusOK, result)
}

// GetQueueHistoryHandler godoc
// @Summary      Join/leave history for one court
// @Description  Returns the most recent audit events recorded for a court, newest first
// @Tags         queues
// @Produce      json
// @Param        courtId path string true "Court ID"
// @Param        limit query int false "Maximum events to return (default 50, max 200)"
// @Success      200 {object} queueHistoryResponse
// @Failure      400 {object} map[string]interface{} "Invalid limit"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /queues/{courtId}/history [get]
func (h *Handler) GetQueueHistoryHandler(w http.ResponseWriter, r *http.Request) {
	courtID := chi.URLParam(r, "courtId")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			json.WriteValidationError(w, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	events, err := h.auditLogs.GetByCourtID(r.Context(), courtID, limit)
	if err != nil {
		log.Printf("Failed to load history for court %s: %v", courtID, err)
		json.WriteInternalError(w, err)
		return
	}

	if events == nil {
		events = []domain.QueueAuditLog{}
	}

	json.Write(w, http.StatusOK, queueHistoryResponse{Events: events})
}

// LeaveQueueHandler godoc
// @Summary      Leave a court's waiting queue
// @Description  Removes the user and renumbers everyone behind them
// @Tags         queues
// @Accept       json
// @Produce      json
// @Param        courtId path string true "Court ID"
// @Param        request body leaveQueueRequest true "Leave parameters"
// @Success      200 {object} service.QueueActionResult
// @Failure      400 {object} map[string]interface{} "Invalid input"
// @Failure      404 {object} map[string]interface{} "Queue not found"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /queues/{courtId}/leave [post]
func (h *Handler) LeaveQueueHandler(w http.ResponseWriter, r *http.Request) {
	courtID := chi.URLParam(r, "courtId")

	var req leaveQueueRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	result, err := h.queueService.LeaveCourtQueue(r.Context(), courtID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			json.WriteValidationError(w, err)
		case errors.Is(err, domain.ErrQueueNotFound):
			json.WriteError(w, http.StatusNotFound, err, "No queue for this court")
		default:
			log.Printf("Leave failed for court %s: %v", courtID, err)
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusOK, result)
}

package queues

import (
	"github.com/slotline/courtqueue/internal/domain"
	"github.com/slotline/courtqueue/internal/service"
)

type joinQueueRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	TeamID   string `json:"teamId,omitempty"`
}

type leaveQueueRequest struct {
	UserID string `json:"userId"`
}

type getAllQueuesResponse struct {
	Queues []service.QueueView `json:"queues"`
}

type queueHistoryResponse struct {
	Events []domain.QueueAuditLog `json:"events"`
}

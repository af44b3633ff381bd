package notifications

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/messaging"
	"github.com/slotline/courtqueue/internal/infrastructure/metrics"
	"github.com/slotline/courtqueue/internal/infrastructure/ws"
)

const heartbeatInterval = 25 * time.Second

// Subscriber opens ephemeral per-listener bindings to the broadcast
// exchange.
type Subscriber interface {
	SubscribeBroadcast(ctx context.Context, clientID string) (messaging.Subscription, error)
}

type Handler struct {
	subscriber Subscriber
	hub        *ws.Hub
	upgrader   websocket.Upgrader
	logger     logging.Logger
	metrics    *metrics.Metrics
}

func NewHandler(subscriber Subscriber, hub *ws.Hub, logger logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		subscriber: subscriber,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		metrics: m,
	}
}

// StreamHandler godoc
// @Summary      Live queue event stream
// @Description  Server-sent events: a leading comment frame, ping frames every 25s, and one data frame per queue event
// @Tags         notifications
// @Produce      text/event-stream
// @Success      200 {string} string "event stream"
// @Router       /notifications/stream [get]
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := uuid.NewString()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The stream outlives any server write timeout. When the deadline
	// cannot be cleared the connection will die at the server's write
	// timeout, so make that visible instead of failing silently.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn(logging.Queue, logging.Bridge, "failed to clear write deadline, stream will be cut at the server write timeout", map[logging.ExtraKey]any{
			"client_id":          clientID,
			logging.ErrorMessage: err.Error(),
		})
	}

	sub, err := h.subscriber.SubscribeBroadcast(r.Context(), clientID)
	if err != nil {
		h.logger.Error(logging.Queue, logging.Bridge, "subscription setup failed", map[logging.ExtraKey]any{
			"client_id":          clientID,
			logging.ErrorMessage: err.Error(),
		})
		fmt.Fprintf(w, "event: error\ndata: subscription failed\n\n")
		flusher.Flush()
		return
	}
	defer sub.Close()

	h.metrics.LiveSubscribers.Inc()
	defer h.metrics.LiveSubscribers.Dec()

	// Opening comment frame so the client sees the stream is live.
	fmt.Fprintf(w, ": connected %s\n\n", clientID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata: \n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, ok := <-sub.Events():
			if !ok {
				// Subscription ended (broker gone or sustained overflow).
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocketHandler godoc
// @Summary      Live queue event stream over WebSocket
// @Description  Mirrors the SSE stream for clients that prefer WebSocket
// @Tags         notifications
// @Success      101 {object} map[string]interface{} "Switching Protocols"
// @Router       /notifications/ws [get]
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := ws.NewClient(conn, uuid.NewString())
	h.hub.Register() <- client
	h.metrics.LiveSubscribers.Inc()

	go client.WritePump()
	go func() {
		client.ReadPump(h.hub)
		h.metrics.LiveSubscribers.Dec()
	}()
}

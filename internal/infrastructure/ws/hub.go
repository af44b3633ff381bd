package ws

import (
	"context"

	"github.com/slotline/courtqueue/internal/infrastructure/logging"
	"github.com/slotline/courtqueue/internal/infrastructure/messaging"
)

// Subscriber binds the hub to the broadcast exchange.
type Subscriber interface {
	SubscribeBroadcast(ctx context.Context, clientID string) (messaging.Subscription, error)
}

// Hub relays every broadcast event to all connected WebSocket clients. It
// is a convenience mirror of the SSE stream: its presence or absence never
// affects what SSE listeners see.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	clients    map[*Client]struct{}
	logger     logging.Logger
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*Client]struct{}),
		logger:     logger,
	}
}

func (h *Hub) Register() chan<- *Client {
	return h.register
}

func (h *Hub) Unregister() chan<- *Client {
	return h.unregister
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for cl := range h.clients {
				close(cl.send)
				delete(h.clients, cl)
			}
			return

		case cl := <-h.register:
			h.clients[cl] = struct{}{}

		case cl := <-h.unregister:
			if _, ok := h.clients[cl]; ok {
				delete(h.clients, cl)
				close(cl.send)
			}

		case event := <-h.broadcast:
			for cl := range h.clients {
				select {
				case cl.send <- event:
				default:
					// Slow client: drop the event rather than stall the hub.
					h.logger.Warn(logging.Queue, logging.Bridge, "dropping ws event for slow client", map[logging.ExtraKey]any{
						"client_id": cl.ID,
					})
				}
			}
		}
	}
}

// Feed pipes an ephemeral broadcast subscription into the hub until ctx is
// done or the subscription closes.
func (h *Hub) Feed(ctx context.Context, subscriber Subscriber) error {
	sub, err := subscriber.SubscribeBroadcast(ctx, "ws-hub")
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			h.broadcast <- event
		}
	}
}

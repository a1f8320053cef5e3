package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"timebank/internal/logging"
	"timebank/internal/models"

	"go.uber.org/zap"
)

// Hub fans change events out to the websocket clients of each account.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logging.OrNop(logger).Named("ws_hub"),
	}
}

func (h *Hub) Register(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*Client]struct{})
	}
	h.clients[accountID][client] = struct{}{}
}

func (h *Hub) Unregister(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		return
	}
	delete(h.clients[accountID], client)
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}

// Publish queues event for every client of the accounts it touches. Slow
// clients drop the message; events are refresh hints and the next one or a
// reconnect catches them up.
func (h *Hub) Publish(_ context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, accountID := range event.AccountIDs {
		for client := range h.clients[accountID] {
			select {
			case client.send <- payload:
			default:
				h.logger.Debug("dropping event for slow client",
					zap.String("account_id", accountID),
					zap.String("entry_id", event.EntryID),
				)
			}
		}
	}
	return nil
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

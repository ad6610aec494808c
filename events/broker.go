package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"pkt.systems/pslog"
)

// Event types broadcast while pipelines run
const (
	RunStarted    = "run_started"
	StageFinished = "stage_finished"
	RunFinished   = "run_finished"
)

// EventBroker manages SSE connections and broadcasts events
type EventBroker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
	log     pslog.Logger
}

// NewEventBroker creates a broker with no clients
func NewEventBroker(log pslog.Logger) *EventBroker {
	return &EventBroker{
		clients: make(map[chan string]bool),
		log:     log,
	}
}

// Register adds a new SSE client
func (b *EventBroker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.log.Debug("sse client connected", "clients", len(b.clients))
}

// Unregister removes an SSE client
func (b *EventBroker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	close(client)
	b.log.Debug("sse client disconnected", "clients", len(b.clients))
}

// Clients returns the number of connected clients
func (b *EventBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients. Clients whose buffer
// is full miss the event.
func (b *EventBroker) Broadcast(eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		b.log.Warn("failed to marshal event data", "event", eventType, "err", err)
		return
	}

	message := fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- message:
		default:
		}
	}
}

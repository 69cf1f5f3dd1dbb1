// Package sse streams store events to HTTP clients over Server-Sent Events.
// The broker implements the store's invalidation listener interface, so
// subscribing it to a manager forwards every entity invalidation to all
// connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType identifies an SSE event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventEntityInvalidated EventType = "entity_invalidated"
	EventHeartbeat         EventType = "heartbeat"
)

// Event is a message sent to clients.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// client is one connected SSE consumer.
type client struct {
	id       string
	messages chan []byte
}

// Broker fans events out to connected SSE clients. It decouples the store's
// synchronous invalidation fan-out from slow HTTP consumers with a buffered
// broadcast channel; a listener callback never blocks on a client.
type Broker struct {
	mu         sync.RWMutex
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan Event
	done       chan struct{}
}

// NewBroker creates a broker and starts its dispatch loop.
func NewBroker() *Broker {
	b := &Broker{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 64),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// OnInvalidated implements the store listener interface: entity changes are
// broadcast to every connected client.
func (b *Broker) OnInvalidated(entities []string) {
	b.Broadcast(Event{Type: EventEntityInvalidated, Data: map[string]any{"entities": entities}})
}

// Broadcast queues an event for delivery to all clients. Drops the event if
// the queue is full rather than blocking the caller.
func (b *Broker) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("SSE broadcast channel full, dropping event")
	}
}

// Stop shuts down the dispatch loop and closes all client channels.
func (b *Broker) Stop() {
	close(b.done)
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, cl := range b.clients {
				close(cl.messages)
			}
			b.clients = make(map[string]*client)
			b.mu.Unlock()
			log.Debug().Msg("SSE broker stopped")
			return

		case cl := <-b.register:
			b.mu.Lock()
			b.clients[cl.id] = cl
			b.mu.Unlock()
			log.Debug().Str("client_id", cl.id).Msg("SSE client connected")

		case cl := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[cl.id]; ok {
				delete(b.clients, cl.id)
				close(cl.messages)
			}
			b.mu.Unlock()
			log.Debug().Str("client_id", cl.id).Msg("SSE client disconnected")

		case event := <-b.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal SSE event")
				continue
			}
			message := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, data)

			b.mu.RLock()
			for _, cl := range b.clients {
				select {
				case cl.messages <- message:
				default:
					// Client buffer full, skip this message.
					log.Warn().Str("client_id", cl.id).Msg("SSE client buffer full, dropping message")
				}
			}
			b.mu.RUnlock()

		case <-heartbeat.C:
			b.Broadcast(Event{Type: EventHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	cl := &client{
		id:       fmt.Sprintf("%p-%d", r, time.Now().UnixNano()),
		messages: make(chan []byte, 32),
	}
	b.register <- cl
	defer func() {
		select {
		case b.unregister <- cl:
		case <-b.done:
		}
	}()

	hello, _ := json.Marshal(Event{Type: EventConnected, Data: map[string]any{"client_id": cl.id}})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventConnected, hello)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-cl.messages:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

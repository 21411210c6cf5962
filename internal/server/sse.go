package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// sseWriteTimeout bounds writes to a single client so one stale connection
// cannot stall a broadcast.
const sseWriteTimeout = 2 * time.Second

// sseClient is one connected event-stream listener.
type sseClient struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// Broadcaster pushes capture events (state changes, level samples) to every
// connected event-stream client.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*sseClient)}
}

// ClientCount returns the number of connected listeners.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends one event to all listeners. Writes run concurrently with a
// per-client timeout; clients that fail or stall are dropped.
func (b *Broadcaster) Broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Event marshal failed")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	dead := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *sseClient) {
			defer wg.Done()
			b.write(c, message, dead)
		}(c)
	}
	wg.Wait()
	close(dead)

	for id := range dead {
		b.drop(id)
	}
}

func (b *Broadcaster) write(c *sseClient, message string, dead chan<- string) {
	written := make(chan struct{})
	go func() {
		defer close(written)
		if _, err := c.writer.Write([]byte(message)); err != nil {
			dead <- c.id
			return
		}
		c.flusher.Flush()
	}()

	select {
	case <-written:
	case <-time.After(sseWriteTimeout):
		log.Warn().Str("client", c.id).Msg("Event write timed out, dropping listener")
		dead <- c.id
	case <-c.done:
	}
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	b.mu.Unlock()
	if ok {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

// handleEvents serves one event-stream connection until the client leaves.
func (b *Broadcaster) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b.mu.Lock()
	b.nextID++
	c := &sseClient{
		id:      fmt.Sprintf("listener-%d", b.nextID),
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	b.mu.Unlock()
	defer b.drop(c.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-c.done:
	}
}

package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// streamBuffer is how many events a slow subscriber may lag behind before
// new events are dropped for it.
const streamBuffer = 16

// Event is one server-sent event: the response status names it and the
// JSON response is its data.
type Event struct {
	ID   uint64
	Name string
	Data []byte
}

// StreamManager fans session responses out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	seq         atomic.Uint64
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logging.NewNop(),
	}
}

// Subscribe registers a stream for sessionID. The returned func closes it.
func (sm *StreamManager) Subscribe(sessionID string) (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, streamBuffer)
	subs, ok := sm.subscribers[sessionID]
	if !ok {
		subs = make(map[chan Event]struct{})
		sm.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		})
	}
}

// Subscribers returns the number of open streams for a session.
func (sm *StreamManager) Subscribers(sessionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[sessionID])
}

// Publish sends resp to every subscriber of its session. Subscribers with a
// full buffer miss the event.
func (sm *StreamManager) Publish(sessionID string, resp *domain.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		sm.logger.Error("SSE: failed to encode response", "session_id", sessionID, "err", err)
		return
	}
	ev := Event{ID: sm.seq.Add(1), Name: string(resp.Status), Data: data}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers[sessionID] {
		select {
		case ch <- ev:
		default:
			sm.logger.Warn("SSE: subscriber buffer full, dropping event", "session_id", sessionID, "event_id", ev.ID)
		}
	}
}

// SubscribeEvents handles the GET /sessions/{sessionID}/events request (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()
	s.Logger.Debug("SSE: subscribed", "session_id", sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprint(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Debug("SSE: client disconnected", "session_id", sessionID)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Name, ev.Data)
			flusher.Flush()
		}
	}
}

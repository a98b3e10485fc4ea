package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one connected client. Writes are serialized per connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type envelope struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

func (s *Session) send(ev Event, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(envelope{Event: ev, Data: payload})
}

// Hub is an explicit session registry keyed by participant. A session's
// lifetime is owned by the connection handler: Register on upgrade,
// Unregister on close. Registering a participant twice replaces the old
// session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[Participant]*Session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[Participant]*Session), logger: logger}
}

func (h *Hub) Register(p Participant, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[p] = &Session{conn: conn}
}

func (h *Hub) Unregister(p Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, p)
}

// Lookup returns the participant's live session, if any.
func (h *Hub) Lookup(p Participant) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[p]
	return s, ok
}

// Emit delivers the event to every audience member with a live session.
// Participants without a session are skipped; a failed write logs and
// moves on. Events are not queued for offline participants.
func (h *Hub) Emit(ctx context.Context, event Event, audience Audience, payload any) error {
	for _, p := range audience {
		s, ok := h.Lookup(p)
		if !ok {
			continue
		}
		if err := s.send(event, payload); err != nil {
			h.logger.Warn("ws send failed", "event", string(event), "kind", string(p.Kind), "id", p.ID, "error", err)
		}
	}
	return nil
}

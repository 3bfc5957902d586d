package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tutorlink/rtc/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP face of the relay.
type Server struct {
	hub *Hub
	log zerolog.Logger
}

// New creates a relay server with an empty registry.
func New(log zerolog.Logger) *Server {
	return &Server{
		hub: NewHub(log),
		log: log,
	}
}

// Router returns the chi router: the WebSocket endpoint plus a health
// probe.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Stop closes all registered connections.
func (s *Server) Stop() {
	s.hub.Stop()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn}
	s.hub.register(c)
	defer s.hub.unregister(c)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn().Err(err).Str("from", userID).Msg("malformed message, dropped")
			continue
		}
		if msg.To == "" {
			s.log.Warn().Str("from", userID).Str("type", string(msg.Type)).Msg("message without recipient, dropped")
			continue
		}

		s.log.Debug().
			Str("type", string(msg.Type)).
			Str("from", msg.From).
			Str("to", msg.To).
			Str("session_id", msg.SessionID).
			Msg("forwarding")
		s.hub.forward(msg.To, raw)
	}
}

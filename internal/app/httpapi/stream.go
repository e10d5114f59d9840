package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/goalvault/goalvault/internal/app/auth"
	"github.com/goalvault/goalvault/internal/app/events"
	"github.com/goalvault/goalvault/internal/app/services/deposits"
	"github.com/goalvault/goalvault/pkg/logger"
)

const (
	writeWait = 10 * time.Second
	// pingPeriod keeps intermediaries from closing idle confirmation waits.
	pingPeriod = 30 * time.Second
)

// StreamHandler pushes deposit attempt transitions to websocket clients so
// the frontend can render workflow progress live.
type StreamHandler struct {
	hub      *events.Hub
	deposits *deposits.Orchestrator
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewStreamHandler builds the websocket endpoint. CORS policy is enforced by
// the surrounding middleware, so cross-origin upgrades are accepted here.
func NewStreamHandler(hub *events.Hub, orch *deposits.Orchestrator, log *logger.Logger) *StreamHandler {
	if log == nil {
		log = logger.NewDefault("stream")
	}
	return &StreamHandler{
		hub:      hub,
		deposits: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// serveAttempt streams one attempt's snapshots until it reaches a terminal
// state or the client disconnects. The current snapshot is always sent first
// so late subscribers see where the workflow stands.
func (s *StreamHandler) serveAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoAuth)
		return
	}

	attemptID := chi.URLParam(r, "attemptID")
	att, err := s.deposits.GetAttempt(r.Context(), userID, attemptID)
	if err != nil {
		writeError(w, depositErrorStatus(err), err)
		return
	}

	// Subscribe before sending the snapshot so no transition between the
	// two is lost.
	updates, cancel := s.hub.Subscribe(attemptID)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if !s.send(conn, att) || att.State.Terminal() {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snapshot, open := <-updates:
			if !open {
				return
			}
			if !s.send(conn, snapshot) || snapshot.State.Terminal() {
				return
			}
		}
	}
}

func (s *StreamHandler) send(conn *websocket.Conn, v interface{}) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
		return false
	}
	return true
}

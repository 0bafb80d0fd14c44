// Package signaling exposes the WebSocket endpoint participants use to
// negotiate media sessions, and drives one channel per connection.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/metrics"
	"github.com/roomcast/roomcast/internal/negotiation"
	"github.com/roomcast/roomcast/internal/registry"
)

// Server upgrades GET /ws requests and runs the signaling protocol.
//
// The connection is upgraded before credentials are checked so every failure
// can be reported as a close frame with a reason code; an HTTP status would
// be invisible to a client that already switched protocols.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	metrics    *metrics.Metrics
	users      *identity.UserStore
	activity   *identity.LogStore
	registry   *registry.Registry
	negotiator *negotiation.Negotiator
	upgrader   websocket.Upgrader
}

func NewServer(
	cfg config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	users *identity.UserStore,
	activity *identity.LogStore,
	reg *registry.Registry,
	neg *negotiation.Negotiator,
) *Server {
	return &Server{
		cfg:        cfg,
		log:        logger,
		metrics:    m,
		users:      users,
		activity:   activity,
		registry:   reg,
		negotiator: neg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	username := r.URL.Query().Get("username")
	password := r.URL.Query().Get("password")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newChannel(conn, s.cfg, s.log, s.metrics)

	if roomID == "" || username == "" || password == "" {
		c.shutdown(CloseUnauthorized, "missing room or credentials")
		return
	}
	valid, err := s.users.Validate(r.Context(), username, password)
	if err != nil {
		s.log.Error("credential check failed", "username", username, "err", err)
		c.shutdown(CloseUnauthorized, "unauthorized")
		return
	}
	if !valid {
		s.metrics.Inc(metrics.AuthFailure)
		c.shutdown(CloseUnauthorized, "unauthorized")
		return
	}

	connID := uuid.NewString()
	participant, err := s.registry.Join(roomID, connID, username)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrRoomNotFound):
			c.shutdown(CloseRoomNotFound, "room_not_found")
		case errors.Is(err, registry.ErrRoomFull):
			c.shutdown(CloseRoomFull, "room_full")
		default:
			c.shutdown(CloseNegotiationFailed, "join failed")
		}
		return
	}

	// From here on the registry entry exists, so the cleanup hook must run
	// on every close path.
	c.cleanup = func() {
		s.registry.Leave(roomID, connID)
		s.negotiator.RemovePeer(roomID, connID)
		s.logActivity(username, "room_leave", roomID)
	}

	peer, err := s.negotiator.AddPeer(participant, c)
	if err != nil {
		s.log.Warn("media setup failed", "room", roomID, "username", username, "err", err)
		c.shutdown(CloseNegotiationFailed, "negotiation_failed")
		return
	}

	s.logActivity(username, "room_join", roomID)
	s.log.Info("participant joined",
		"room", roomID, "username", username, "conn", connID, "role", participant.Role)

	c.run(peer, s.negotiator)
}

func (s *Server) logActivity(username, action, details string) {
	if s.activity == nil {
		return
	}
	// The request context is gone by the time leave fires.
	if err := s.activity.Append(context.Background(), username, action, details); err != nil {
		s.log.Warn("activity log append failed", "username", username, "action", action, "err", err)
	}
}

// Package api is the REST surface for accounts, activity logs and room
// management.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roomcast/roomcast/internal/httpserver"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/registry"
)

type Handler struct {
	log      *slog.Logger
	users    *identity.UserStore
	activity *identity.LogStore
	registry *registry.Registry
}

func New(logger *slog.Logger, users *identity.UserStore, activity *identity.LogStore, reg *registry.Registry) *Handler {
	return &Handler{log: logger, users: users, activity: activity, registry: reg}
}

// Register mounts the API routes. Log and room routes sit behind basic
// auth.
func (h *Handler) Register(mux *http.ServeMux) {
	authed := identity.BasicAuthMiddleware(h.users, h.log)
	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.Handle("GET /api/logs", authed(http.HandlerFunc(h.handleLogs)))
	mux.Handle("POST /api/rooms", authed(http.HandlerFunc(h.handleCreateRoom)))
	mux.Handle("GET /api/rooms", authed(http.HandlerFunc(h.handleListRooms)))
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := decodeBody(r, &creds); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	err := h.users.Create(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, identity.ErrUserExists):
		httpserver.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("register failed", "username", creds.Username, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	h.logActivity(r, creds.Username, "registration")
	httpserver.WriteJSON(w, http.StatusCreated, map[string]string{"username": creds.Username})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := decodeBody(r, &creds); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	valid, err := h.users.Validate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.log.Error("login check failed", "username", creds.Username, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !valid {
		h.logActivity(r, creds.Username, "login_failed")
		httpserver.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	h.logActivity(r, creds.Username, "login")
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"username": creds.Username})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	username := identity.UsernameFromContext(r.Context())

	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.activity.Recent(r.Context(), username, limit)
	if err != nil {
		h.log.Error("read activity log", "username", username, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, entries)
}

type createRoomRequest struct {
	ID string `json:"id"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "room id required"})
		return
	}

	if _, err := h.registry.CreateRoom(req.ID); err != nil {
		if errors.Is(err, registry.ErrRoomExists) {
			httpserver.WriteJSON(w, http.StatusConflict, map[string]string{"error": "room already exists"})
			return
		}
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	username := identity.UsernameFromContext(r.Context())
	h.logActivity(r, username, "room_create")
	h.log.Info("room created", "room", req.ID, "username", username)
	httpserver.WriteJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"rooms": h.registry.ListRooms()})
}

func (h *Handler) logActivity(r *http.Request, username, action string) {
	details := fmt.Sprintf("ip=%s user_agent=%s", r.RemoteAddr, r.UserAgent())
	if err := h.activity.Append(r.Context(), username, action, details); err != nil {
		h.log.Warn("activity log append failed", "username", username, "action", action, "err", err)
	}
}

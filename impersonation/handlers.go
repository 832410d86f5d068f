package impersonation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Console is the read side used by the support console endpoints.
type Console interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ImpersonationSession, error)
	ListSessions(ctx context.Context, openOnly bool, limit int) ([]types.ImpersonationSession, error)
	ListActions(ctx context.Context, sessionID uuid.UUID) ([]types.ActionLogEntry, error)
}

// Handlers provides HTTP handlers for impersonation.
type Handlers struct {
	service  *Service
	sessions *auth.SessionMiddleware
	console  Console
}

// NewHandlers creates new impersonation handlers.
func NewHandlers(service *Service, sessions *auth.SessionMiddleware, console Console) *Handlers {
	return &Handlers{
		service:  service,
		sessions: sessions,
		console:  console,
	}
}

// RegisterRoutes mounts the impersonation API on r. Every route requires a
// login session; the console routes also require a super administrator.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/impersonation").Subrouter()
	api.Use(h.sessions.RequireAuth)

	api.HandleFunc("/start", h.StartHandler).Methods(http.MethodPost)
	api.HandleFunc("/end", h.EndHandler).Methods(http.MethodPost)
	api.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)

	console := api.NewRoute().Subrouter()
	console.Use(auth.RequireTopTier)
	console.HandleFunc("/sessions", h.ListSessionsHandler).Methods(http.MethodGet)
	console.HandleFunc("/sessions/{id}", h.ForceEndHandler).Methods(http.MethodDelete)
	console.HandleFunc("/sessions/{id}/actions", h.SessionActionsHandler).Methods(http.MethodGet)

	r.Handle("/api/auth/logout", h.sessions.RequireAuth(http.HandlerFunc(h.LogoutHandler))).Methods(http.MethodPost)
}

// StartHandler handles POST /api/impersonation/start.
func (h *Handlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req types.ImpersonationStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	result := h.service.Start(w, r, req)
	writeJSON(w, types.HTTPStatusFor(result.Err), result)
}

// EndHandler handles POST /api/impersonation/end. The body is optional.
func (h *Handlers) EndHandler(w http.ResponseWriter, r *http.Request) {
	var req types.ImpersonationEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if req.Reason != "" && req.Reason != types.EndReasonManual {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Only manual end is allowed here", types.ErrBadRequest))
		return
	}

	result := h.service.End(w, r, types.EndReasonManual)
	writeJSON(w, types.HTTPStatusFor(result.Err), result)
}

// StatusHandler handles GET /api/impersonation/status.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	view := h.service.ClientData(w, r)
	writeJSON(w, http.StatusOK, types.ImpersonationStatusResponse{
		Active:        view != nil,
		Impersonation: view,
	})
}

// LogoutHandler handles POST /api/auth/logout. Any open impersonation is
// closed with reason admin_logout before the login session is dropped.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if h.service.IsImpersonating(r) {
		if result := h.service.End(w, r, types.EndReasonAdminLogout); !result.Success {
			log.Warn().Err(result.Err).Msg("Could not close impersonation on logout")
		}
	}

	if err := h.sessions.Logout(w, r); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to log out", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessionsHandler handles GET /api/impersonation/sessions.
func (h *Handlers) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500", err))
			return
		}
		limit = n
	}

	sessions, err := h.console.ListSessions(r.Context(), openOnly, limit)
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to list sessions", err))
		return
	}

	writeJSON(w, http.StatusOK, types.ImpersonationSessionsResponse{Sessions: sessions})
}

// SessionActionsHandler handles GET /api/impersonation/sessions/{id}/actions.
func (h *Handlers) SessionActionsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	sess, err := h.console.GetSession(r.Context(), sessionID)
	if errors.Is(err, types.ErrNotFound) {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusNotFound, "Session not found", err))
		return
	}
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to load session", err))
		return
	}

	actions, err := h.console.ListActions(r.Context(), sessionID)
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to list actions", err))
		return
	}

	writeJSON(w, http.StatusOK, types.ImpersonationActionsResponse{Session: sess, Actions: actions})
}

// ForceEndHandler handles DELETE /api/impersonation/sessions/{id}.
func (h *Handlers) ForceEndHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	caller := auth.GetUserFromContext(r.Context())
	err := h.service.Terminate(r.Context(), sessionID, types.EndReasonForced)
	if errors.Is(err, types.ErrNotFound) {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusNotFound, "Session not found", err))
		return
	}
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to end session", err))
		return
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("ended_by", caller.ID.String()).
		Msg("Impersonation session force-ended")

	writeJSON(w, http.StatusOK, types.ImpersonationEndResult{Success: true})
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid session ID", err))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

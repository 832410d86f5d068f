// Package server assembles the flock HTTP handler from its components.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/database"
	"github.com/flockhq/flock/impersonation"
	"github.com/flockhq/flock/middleware"
	"github.com/flockhq/flock/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures New.
type Options struct {
	DB                *database.Database
	Codec             impersonation.TokenCodec
	SessionStore      sessions.Store
	SessionCookieName string
	Impersonation     impersonation.Config
	Scheduler         impersonation.ExpiryScheduler
	Logger            zerolog.Logger
	// Now overrides the impersonation clock; nil uses time.Now.
	Now func() time.Time
}

// Server is the assembled HTTP surface.
type Server struct {
	Router        *mux.Router
	Sessions      *auth.SessionMiddleware
	Impersonation *impersonation.Service
	db            *database.Database
	now           func() time.Time
}

// New builds the router with every middleware and route mounted.
func New(opts Options) *Server {
	sm := auth.NewSessionMiddleware(opts.SessionStore, opts.SessionCookieName, opts.DB)

	var svcOpts []impersonation.Option
	if opts.Now != nil {
		svcOpts = append(svcOpts, impersonation.WithClock(opts.Now))
	}
	if opts.Scheduler != nil {
		svcOpts = append(svcOpts, impersonation.WithExpiryScheduler(opts.Scheduler))
	}
	svc := impersonation.NewService(opts.DB, opts.DB, opts.DB, opts.Codec, opts.Impersonation, svcOpts...)

	s := &Server{
		Router:        mux.NewRouter(),
		Sessions:      sm,
		Impersonation: svc,
		db:            opts.DB,
		now:           time.Now,
	}
	if opts.Now != nil {
		s.now = opts.Now
	}

	r := s.Router
	r.Use(middleware.Recovery())
	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)

	impersonation.NewHandlers(svc, sm, opts.DB).RegisterRoutes(r)

	// Application routes act on the effective user.
	app := r.PathPrefix("/api/me").Subrouter()
	app.Use(sm.RequireAuth, svc.Middleware, svc.AuditRequests)
	app.HandleFunc("", s.meHandler).Methods(http.MethodGet)
	app.HandleFunc("", s.updateMeHandler).Methods(http.MethodPatch)

	return s
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DB().PingContext(r.Context()); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusServiceUnavailable, "database unavailable", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

type meResponse struct {
	User          *types.User                    `json:"user"`
	Impersonation *types.ImpersonationClientView `json:"impersonation,omitempty"`
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.db.GetUserByID(ctx, auth.EffectiveUserID(ctx))
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusNotFound, "User not found", err))
		return
	}

	resp := meResponse{User: user}
	if sess := auth.GetImpersonationFromContext(ctx); sess != nil {
		resp.Impersonation = sess.ClientView(s.now())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type updateMeRequest struct {
	Name string `json:"name"`
}

func (s *Server) updateMeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Name is required", types.ErrBadRequest))
		return
	}

	userID := auth.EffectiveUserID(ctx)
	err := s.db.UpdateUserName(ctx, userID, name)
	if errors.Is(err, types.ErrNotFound) {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusNotFound, "User not found", err))
		return
	}
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to update user", err))
		return
	}

	auditLog := auth.NewAuditLogWithContext(ctx, "user.renamed", types.ResourceTypeUser, userID.String()).
		WithChanges(map[string]interface{}{"name": name}).
		WithIPAddress(auth.GetClientIP(r)).
		WithUserAgent(r.UserAgent())
	if err := s.db.CreateAuditLog(ctx, auditLog); err != nil {
		log.Error().Err(err).Msg("Failed to create audit log for user rename")
	}

	w.WriteHeader(http.StatusNoContent)
}

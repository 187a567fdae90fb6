// ExamWatch - Live Proctoring and Real-Time Exam Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examwatch

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/examwatch/internal/audit"
	"github.com/tomtom215/examwatch/internal/auth"
	"github.com/tomtom215/examwatch/internal/authz"
	"github.com/tomtom215/examwatch/internal/config"
	"github.com/tomtom215/examwatch/internal/middleware"
	"github.com/tomtom215/examwatch/internal/monitor"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Config   *config.Config
	System   *monitor.System
	Enforcer *authz.Enforcer
	// JWT is nil when authentication is disabled.
	JWT       *auth.JWTManager
	Directory *auth.Directory
}

// Handler serves every ExamWatch route.
type Handler struct {
	cfg       *config.Config
	sys       *monitor.System
	audit     *audit.Logger
	jwt       *auth.JWTManager
	directory *auth.Directory
	authn     *auth.Middleware
	authz     *authz.Middleware
	mw        *ChiMiddleware
	startTime time.Time
}

// NewHandler validates deps and builds the handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Config == nil || deps.System == nil || deps.Enforcer == nil {
		return nil, errors.New("api: config, system and enforcer are required")
	}
	mode, err := auth.ParseAuthMode(deps.Config.Security.AuthMode)
	if err != nil {
		return nil, err
	}
	if mode == auth.AuthModeJWT && deps.JWT == nil {
		return nil, errors.New("api: jwt auth mode requires a JWT manager")
	}
	if deps.Directory == nil {
		deps.Directory = auth.NewDirectory(nil)
	}

	sec := deps.Config.Security
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = sec.CORSOrigins
	mwCfg.RateLimitRequests = sec.RateLimitReqs
	mwCfg.RateLimitWindow = sec.RateLimitWindow
	mwCfg.RateLimitDisabled = sec.RateLimitDisabled
	mwCfg.RateLimitOnLimit = func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded", nil)
	}

	h := &Handler{
		cfg:       deps.Config,
		sys:       deps.System,
		audit:     deps.System.Audit,
		jwt:       deps.JWT,
		directory: deps.Directory,
		mw:        NewChiMiddleware(mwCfg),
		startTime: time.Now(),
	}
	h.authn = auth.NewMiddleware(mode, deps.JWT, func(w http.ResponseWriter, r *http.Request, err error) {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error(), nil)
	})
	h.authz = authz.NewMiddleware(deps.Enforcer, deps.System.Audit, func(w http.ResponseWriter, r *http.Request, status int, msg string) {
		code := ErrCodeForbidden
		if status >= http.StatusInternalServerError {
			code = ErrCodeInternal
		}
		respondError(w, r, status, code, msg, nil)
	})
	return h, nil
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.mw.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.mw.RateLimit())
		r.Use(SecurityHeaders)
		r.Use(middleware.Compression)

		r.With(h.mw.RateLimitLogin()).Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authn.Authenticate)
			r.Use(h.authz.Authorize)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.BeginSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Use(h.sessionScope)
					r.Post("/permissions", h.GrantPermissions)
					r.Post("/ready", h.AwaitReady)
					r.Post("/submit", h.SubmitSession)
					r.Post("/signals", h.PostSignal)

					r.Post("/resume", h.ResumeSession)
					r.Post("/flag", h.FlagSession)
					r.Post("/pause", h.PauseSession)
					r.Post("/end", h.EndMonitoring)
					r.Post("/evaluate", h.EvaluateSession)
				})
			})

			r.Route("/monitoring", func(r chi.Router) {
				r.Get("/sessions", h.ListSessions)
				r.Get("/sessions/{id}", h.GetSession)
				r.Get("/sessions/{id}/violations", h.SessionViolations)
				r.Get("/events/recent", h.RecentEvents)
				r.Get("/mode", h.MonitoringMode)
				r.Get("/audit", h.AuditEvents)
				r.Get("/audit/stats", h.AuditStats)
				r.Get("/audit/export", h.ExportAudit)
			})

			r.Get("/assessments/{id}/proctoring", h.GetProctoringConfig)
			r.Put("/assessments/{id}/proctoring", h.PutProctoringConfig)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authn.Authenticate)
		r.Use(h.authz.Authorize)
		r.Get("/ws/dashboard", h.DashboardSocket)
		r.With(h.sessionScope).Get("/ws/participant/{id}", h.ParticipantSocket)
	})

	return r
}

// sessionScope refuses participant tokens for sessions other than their own.
func (h *Handler) sessionScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.SubjectFromContext(r.Context()).CanActOn(chi.URLParam(r, "id")) {
			respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "token is not valid for this session", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor returns the audit actor for the request's subject.
func actor(r *http.Request) audit.Actor {
	s := auth.SubjectFromContext(r.Context())
	if s == nil {
		return audit.SystemActor("unknown", "unauthenticated")
	}
	if s.Role == auth.RoleParticipant && s.SessionID != "" {
		return audit.ParticipantActor(s.SessionID)
	}
	return audit.SupervisorActor(s.Username, s.Role)
}

// subjectName returns the username recorded as "by" on lifecycle changes.
func subjectName(r *http.Request) string {
	if s := auth.SubjectFromContext(r.Context()); s != nil {
		return s.Username
	}
	return ""
}

// Package api provides the HTTP server for the settlement node. Reads are
// open; operations that move value on behalf of a third party require the
// admin bearer token.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/app/poco"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/health"
)

// Options configures a Server.
type Options struct {
	// AdminToken gates the admin routes. Empty disables them.
	AdminToken  string
	CORSOrigins []string
	Health      *health.Checker
	Log         *zap.Logger
}

// Server is the node HTTP API server.
type Server struct {
	engine         *poco.Engine
	health         *health.Checker
	adminToken     string
	corsOrigins    []string
	metricsEnabled bool
	log            *zap.Logger
}

// NewServer creates a new API server.
func NewServer(engine *poco.Engine, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:      engine,
		health:      opts.Health,
		adminToken:  opts.AdminToken,
		corsOrigins: opts.CORSOrigins,
		log:         log.Named("api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/kitty", s.handleKitty)
		r.Get("/orders/{hash}/consumed", s.handleConsumed)
		r.Get("/deals/{id}", s.handleDeal)
		r.Get("/deals/{id}/tasks/{index}", s.handleTaskAt)
		r.Get("/tasks/{id}", s.handleTask)
		r.Get("/events", s.handleEvents)

		r.Post("/match", s.handleMatch)
		r.Post("/deals/{id}/tasks/{index}/result", s.handlePushResult)
		r.Post("/deals/{id}/tasks/{index}/claim", s.handleClaim)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/sponsor-match", s.handleSponsorMatch)
			r.Post("/accounts/{address}/deposit", s.handleDeposit)
			r.Post("/accounts/{address}/withdraw", s.handleWithdraw)
			r.Post("/orders/manage", s.handleManageOrder)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// requireAdmin checks the bearer token in constant time.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusForbidden, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && o == origin {
			return origin
		}
	}
	return ""
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps an engine error to a status by its class.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	class := domain.Classify(err)
	status := statusFor(err, class)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    string(class),
		},
	})
}

func statusFor(err error, class domain.ErrorClass) int {
	switch class {
	case domain.ClassAuthentication:
		return http.StatusForbidden
	case domain.ClassCompatibility:
		return http.StatusUnprocessableEntity
	case domain.ClassResource, domain.ClassState:
		return http.StatusConflict
	case domain.ClassAddressing:
		if errors.Is(err, domain.ErrDealNotFound) || errors.Is(err, domain.ErrTaskNotFound) ||
			errors.Is(err, domain.ErrTaskIndexOutOfRange) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

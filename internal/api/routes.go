package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/sync"
)

type Handler struct {
	syncManager *sync.Manager
	cfg         config.ServerConfig
}

func NewHandler(manager *sync.Manager, cfg config.ServerConfig) *Handler {
	return &Handler{
		syncManager: manager,
		cfg:         cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/tables", h.ListTables)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/", h.ReadRecords)
			r.Post("/", h.InsertRecord)
			r.Get("/{id}", h.GetRecord)
			r.Patch("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/push", h.Push)
			r.Post("/pull/{table}", h.Pull)
			r.Post("/trigger", h.TriggerSync)
			r.Get("/status", h.GetSyncStatus)
			r.Get("/pending", h.ListPending)
			r.Get("/conflicts", h.ListConflicts)
			r.Post("/conflicts/{id}/resolve", h.ResolveConflict)
			r.Get("/history", h.GetHistory)
			r.Post("/realtime/start", h.StartRealtime)
			r.Post("/realtime/stop", h.StopRealtime)
		})
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// RequestLogger logs one line per request through zap.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-ZUMO-AUTH")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin(origin string) string {
	if len(h.cfg.CorsOrigins) == 0 {
		return "*"
	}
	for _, o := range h.cfg.CorsOrigins {
		if o == "*" || o == origin {
			return o
		}
	}
	return ""
}

// AuthMiddleware checks the configured token against either a bearer
// Authorization header or X-ZUMO-AUTH. An empty token disables the check.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-ZUMO-AUTH")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

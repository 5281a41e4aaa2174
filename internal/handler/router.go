package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// HealthReporter reports failing dependencies by name.
type HealthReporter interface {
	HealthCheck(ctx context.Context) map[string]error
}

type RouterOptions struct {
	RequireHTTPS   bool
	AllowedOrigins []string
	ClientGuard    func(http.Handler) http.Handler
	Health         HealthReporter
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(otpHandler *OTPHandler, backupHandler *BackupHandler, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()
	h := responder{logger: logger}

	if opts.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(clientIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderSessionID, HeaderPhone, HeaderWalletAddress},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Service: "keyless-recovery"}
		status := http.StatusOK
		if opts.Health != nil {
			if failures := opts.Health.HealthCheck(r.Context()); len(failures) > 0 {
				resp.Status = "unhealthy"
				resp.Checks = make(map[string]string, len(failures))
				names := make([]string, 0, len(failures))
				for name, err := range failures {
					resp.Checks[name] = err.Error()
					names = append(names, name)
				}
				sort.Strings(names)
				logger.Warn("Health check failed", zap.Strings("failing", names))
				status = http.StatusServiceUnavailable
			}
		}
		h.respondWithJSON(w, status, resp)
	})

	guard := opts.ClientGuard
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/clock", func(w http.ResponseWriter, r *http.Request) {
			h.respondWithJSON(w, http.StatusOK, map[string]string{
				"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
			})
		})
		otpHandler.RegisterRoutes(r, guard)
		backupHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

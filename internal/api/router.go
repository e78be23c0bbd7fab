package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/notification"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
	"github.com/fuomag9/inframirror/internal/websocket"
)

// Deps are the services the HTTP API is built on. Hub may be nil.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Engine     Engine
	Uptime     *uptime.Calculator
	Hub        *websocket.Hub
	Dispatcher *notification.Dispatcher
	Logger     *zap.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(d Deps) http.Handler {
	cfg, s, logger := d.Config, d.Store, d.Logger.Named("api")
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "Location", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 5 attempts, then one every 12 seconds per client
	loginLimiter := NewRateLimiter(rate.Every(12*time.Second), 5)

	r.Route("/api", func(r chi.Router) {
		r.With(RateLimitMiddleware(loginLimiter)).
			Post("/auth/login", HandleLogin(s, cfg.JWTSecret, cfg.Auth.TokenTTL, logger))

		// Badges are public for monitors on a published status page
		r.Get("/badge/{id}/status", HandleStatusBadge(s, logger))
		r.Get("/badge/{id}/uptime", HandleUptimeBadge(s, d.Uptime, logger))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, s, logger))

			r.Get("/auth/me", HandleGetCurrentPrincipal())

			r.Get("/monitors", HandleGetMonitors(s, logger))
			r.Get("/monitors/count", HandleCountMonitors(s, logger))
			r.Post("/monitors", HandleCreateMonitor(s, d.Engine, logger))
			r.Get("/monitors/{id}", HandleGetMonitor(s, logger))
			r.Put("/monitors/{id}", HandleUpdateMonitor(s, d.Engine, logger))
			r.Patch("/monitors/{id}", HandlePatchMonitor(s, d.Engine, logger))
			r.Delete("/monitors/{id}", HandleDeleteMonitor(s, d.Engine, d.Uptime, logger))
			r.Get("/monitors/{id}/children", HandleGetChildren(s, logger))
			r.Get("/monitors/{id}/heartbeats", HandleGetMonitorHeartbeats(s, logger))
			r.Get("/monitors/{id}/alert-state", HandleGetAlertState(s, d.Engine, logger))
			r.Post("/monitors/{id}/check", HandleCheckMonitor(s, d.Engine, logger))
			r.Get("/monitors/{id}/uptime", HandleGetMonitorUptime(s, d.Uptime, logger))
			r.Get("/monitors/{id}/uptime/history", HandleGetMonitorUptimeHistory(s, d.Uptime, logger))
			r.Get("/monitors/{id}/uptime/hourly", HandleGetMonitorHourlyUptime(s, d.Uptime, logger))
			r.Get("/monitors/{id}/notifications", HandleGetMonitorNotifications(s, logger))
			r.Put("/monitors/{id}/notifications", HandleSetMonitorNotifications(s, d.Engine, logger))

			r.Get("/heartbeats", HandleGetHeartbeats(s, logger))
			r.Get("/heartbeats/count", HandleCountHeartbeats(s, logger))
			r.Get("/heartbeats/{id}", HandleGetHeartbeat(s, logger))
			immutable := HandleHeartbeatImmutable()
			r.Post("/heartbeats", immutable)
			r.Put("/heartbeats/{id}", immutable)
			r.Patch("/heartbeats/{id}", immutable)
			r.Delete("/heartbeats/{id}", immutable)

			r.Get("/notifications", HandleGetNotifications(s, logger))
			r.Post("/notifications", HandleCreateNotification(s, logger))
			r.Get("/notifications/providers", HandleGetNotificationProviders())
			r.Get("/notifications/{id}", HandleGetNotification(s, logger))
			r.Put("/notifications/{id}", HandleUpdateNotification(s, logger))
			r.Delete("/notifications/{id}", HandleDeleteNotification(s, logger))
			r.Post("/notifications/{id}/test", HandleTestNotification(s, d.Dispatcher, logger))

			r.Get("/status-pages", HandleGetStatusPages(s, logger))
			r.Post("/status-pages", HandleCreateStatusPage(s, logger))
			r.Get("/status-pages/{id}", HandleGetStatusPage(s, logger))
			r.Put("/status-pages/{id}", HandleUpdateStatusPage(s, logger))
			r.Delete("/status-pages/{id}", HandleDeleteStatusPage(s, logger))

			r.Group(func(r chi.Router) {
				r.Use(RequireScope(models.ScopeAdmin))
				r.Get("/api-keys", HandleGetAPIKeys(s, logger))
				r.Post("/api-keys", HandleCreateAPIKey(s, logger))
				r.Delete("/api-keys/{id}", HandleDeleteAPIKey(s, logger))
			})
		})
	})

	// Public status page endpoint (no auth required)
	r.Get("/status/{slug}", HandleGetPublicStatusPage(s, d.Uptime, logger))

	r.Get("/metrics", HandlePrometheusMetrics(s, d.Engine, d.Uptime, d.Hub, logger))

	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

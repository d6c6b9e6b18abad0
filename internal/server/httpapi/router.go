// Package httpapi exposes the public HTTP surface: REST endpoints for
// accounts, devices and segments, and the websocket realtime channel.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/mkorchagin/camstream/internal/logging"
	"github.com/mkorchagin/camstream/internal/server/config"
	"github.com/mkorchagin/camstream/internal/server/hub"
	"github.com/mkorchagin/camstream/internal/server/services"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	logger   logging.Logger
	users    *services.UserService
	devices  *services.DeviceService
	segments *services.SegmentService
	hub      *hub.Hub

	maxPayloadBytes int64
	upgrader        websocket.Upgrader
}

func NewHandler(logger logging.Logger, users *services.UserService, devices *services.DeviceService,
	segments *services.SegmentService, h *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{
		logger:          logger,
		users:           users,
		devices:         devices,
		segments:        segments,
		hub:             h,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		upgrader: websocket.Upgrader{
			// The REST surface already allows any origin; the realtime
			// channel matches it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes assembles the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/ws", h.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Get("/me", h.me)
			r.Post("/devices/register", h.provisionDevice)
			r.Get("/devices", h.listDevices)
			r.Get("/segments/{deviceID}", h.recentSegments)
			r.Get("/segments/{deviceID}/latest", h.latestSegment)
			r.Get("/segments/{deviceID}/{segmentID}/download", h.downloadSegment)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireDevice)
			r.Post("/segments", h.ingestSegment)
		})
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ringlink/ringlink/internal/adapter/driven/gateway/ws"
	"github.com/ringlink/ringlink/internal/config"
	"github.com/ringlink/ringlink/internal/core/service"
	"github.com/ringlink/ringlink/internal/metrics"
)

type Handler struct {
	Presence *service.PresenceService
	Calls    *service.CallService
	Hub      *ws.Hub
	Stats    *metrics.Registry
	Cfg      config.Config
}

func NewHandler(presence *service.PresenceService, calls *service.CallService, hub *ws.Hub, stats *metrics.Registry, cfg config.Config) *Handler {
	return &Handler{
		Presence: presence,
		Calls:    calls,
		Hub:      hub,
		Stats:    stats,
		Cfg:      cfg,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	fs := http.FileServer(http.Dir(h.Cfg.StaticDir))
	r.Handle("/*", fs)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", h.Stats.Handler())

	return r
}

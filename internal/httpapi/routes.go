package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/internal/client"
	"github.com/DoyleJ11/jackport-sync/internal/ws"
)

func SetupRoutes(f *client.Facade, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/state", GetState(f))
	r.Post("/game/clear", ClearGame(f))
	r.Post("/game/reload", ReloadGame(f))
	r.Put("/session", SetSessionFlag(f))
	r.Get("/ws", ws.Handler(f, log))
	return r
}

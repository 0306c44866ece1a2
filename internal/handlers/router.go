// internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/cambia-lobby/internal/middleware"
)

var defaultOrigins = []string{"https://*", "http://*"}

// Handler mounts both transports:
//
//	GET  /ping        load balancer heartbeat
//	GET  /health      liveness and lobby count
//	GET  /lobby/ws    push transport (websocket, subprotocol "lobby")
//	     /v1/...      poll transport
func (s *LobbyServer) Handler() http.Handler {
	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(s.Logger))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.HealthHandler)
	r.Get("/lobby/ws", s.LobbyWSHandler())
	r.Mount("/v1", s.Routes())
	return r
}

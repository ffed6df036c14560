package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/matchpoint-app/results-engine/handlers"
	"github.com/matchpoint-app/results-engine/middleware"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	resultsHandler *handlers.ResultsHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Route("/games/{gameID}/results", func(r chi.Router) {
		// Чтение результатов публичное: зрители смотрят счёт без токена.
		r.Get("/", resultsHandler.GetResults)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwtSecret))
			r.Post("/batch", resultsHandler.SubmitBatch)
		})
	})

	router.Get("/ws/games/{gameID}", webSocketHandler.ServeWs)
}

package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/camflow/internal/web/handlers"
	"github.com/kozaktomas/camflow/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	configHandler := handlers.NewConfigHandler(s.config, s.services.Models, s.services.Channels, s.services.Recognizer != nil)
	tasksHandler := handlers.NewTasksHandler(s.services.Tasks)
	personsHandler := handlers.NewPersonsHandler(s.services.Persons, s.services.Images)
	recognizeHandler := handlers.NewRecognizeHandler(s.services.Recognizer, s.services.Images)
	sessionsHandler := handlers.NewSessionsHandler(s.services.Sessions)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.config.Web.APIToken))

			r.Get("/config", configHandler.Get)

			// Tasks (background analysis + delivery)
			r.Post("/tasks", tasksHandler.Create)
			r.Get("/tasks/{id}", tasksHandler.Status)

			// Person groups
			r.Get("/persons", personsHandler.List)
			r.Post("/persons", personsHandler.AddReference)
			r.Delete("/persons/{id}", personsHandler.Delete)

			r.Post("/recognize", recognizeHandler.Recognize)

			// Session history
			r.Get("/sessions", sessionsHandler.List)
			r.Delete("/sessions", sessionsHandler.DeleteAll)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Delete("/sessions/{id}", sessionsHandler.Delete)
		})
	})
}

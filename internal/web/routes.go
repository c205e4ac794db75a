package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes(h Handlers) {
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Streaming endpoints run without a request timeout.
		r.Get("/capture/stream", h.Capture.Stream)
		r.Get("/capture/events", h.Capture.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(2 * time.Minute))

			// Courses
			r.Get("/courses", h.Courses.List)
			r.Post("/courses", h.Courses.Create)
			r.Get("/courses/{id}", h.Courses.Get)
			r.Get("/courses/{id}/students", h.Courses.Roster)

			// Students
			r.Get("/students", h.Students.List)
			r.Post("/students", h.Students.Create)
			r.Post("/students/verify-photo", h.Students.VerifyPhoto)
			r.Get("/students/{id}", h.Students.Get)
			r.Put("/students/{id}", h.Students.Update)
			r.Delete("/students/{id}", h.Students.Delete)
			r.Get("/students/{id}/photo", h.Students.Photo)
			r.Post("/students/{id}/photo", h.Students.UpdatePhoto)

			// Capture session
			r.Post("/capture/start", h.Capture.Start)
			r.Post("/capture/stop", h.Capture.Stop)
			r.Get("/capture/status", h.Capture.Status)
			r.Get("/capture/frame", h.Capture.Frame)
			r.Post("/capture/trigger", h.Capture.Trigger)

			// Attendance records
			r.Get("/records", h.Records.List)
			r.Post("/records/process-pending", h.Records.ProcessPending)
			r.Get("/records/{id}", h.Records.Get)
			r.Put("/records/{id}", h.Records.Override)
			r.Get("/records/{id}/capture", h.Records.Capture)

			// Notifications
			r.Get("/notifications/stats", h.Records.OutboxStats)
		})
	})
}

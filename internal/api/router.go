package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Get("/{type}", s.handleGetTemplate)
		})

		r.Route("/microcontrollers", func(r chi.Router) {
			r.Get("/", s.handleListMicrocontrollers)
			r.Post("/", s.handleRegisterMicrocontroller)

			r.Route("/{mac}", func(r chi.Router) {
				r.Get("/", s.handleGetMicrocontroller)
				r.Delete("/", s.handleDeleteMicrocontroller)

				r.Post("/load", s.handleLoad)
				r.Post("/request-config", s.handleRequestConfig)
				r.Post("/fetch-config", s.handleFetchConfig)
				r.Post("/push", s.handlePush)
				r.Post("/push-microcontroller-config", s.handlePushMicrocontrollerConfig)
				r.Post("/save", s.handleSave)
				r.Post("/enable", s.handleSetMicrocontrollerEnabled(true))
				r.Post("/disable", s.handleSetMicrocontrollerEnabled(false))

				r.Route("/devices", func(r chi.Router) {
					r.Post("/", s.handleAddDevice)

					r.Route("/{index}", func(r chi.Router) {
						r.Delete("/", s.handleRemoveDevice)
						r.Put("/pins/{name}", s.handleSetPin)
						r.Put("/properties/{name}", s.handleSetProperty)
						r.Put("/enabled", s.handleSetDeviceEnabled)
					})
				})
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

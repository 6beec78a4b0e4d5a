package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/ts-nvr-bridge/internal/middleware"
)

// NewRouter assembles the full HTTP surface. The webhook and health
// endpoints are public; everything under /api/v1 requires a bearer
// token, except the websocket which validates its query token itself.
func NewRouter(h *Handler, auth *middleware.JWTAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", h.col.Handler())

	r.Post("/webhook/{instanceID}", h.Webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instances/{id}/events/ws", h.EventStream(auth))

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Get("/instances", h.ListInstances)
			r.Route("/instances/{id}", func(r chi.Router) {
				r.Get("/state", h.GetState)
				r.Get("/alarms", h.GetAlarms)
				r.Get("/detections", h.GetDetections)
				r.Delete("/detections", h.ClearDetections)
				r.Post("/ptz", h.PTZ)
				r.Post("/snapshot", h.Snapshot)
				r.Post("/stream-url", h.StreamURL)
				r.Get("/alarm-config/{kind}", h.GetAlarmConfig)
				r.Post("/alarm-config/{kind}", h.SetAlarmConfig)
				r.Post("/alarm-output", h.AlarmOutput)
				r.Post("/search/records", h.SearchRecords)
				r.Post("/search/plates", h.SearchPlates)
				r.Post("/search/faces", h.SearchFaces)
				r.Post("/plate-db", h.PlateDB)
				r.Post("/disarming", h.SetDisarming)
				r.Post("/event-push/configure", h.ConfigureEventPush)
				r.Post("/reboot", h.Reboot)
			})
		})
	})

	return r
}

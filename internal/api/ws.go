package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-nvr-bridge/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards live on other origins
	},
}

const wsPingInterval = 30 * time.Second

// EventStream streams the instance's live events over a websocket.
// Browsers cannot set an Authorization header on a websocket, so the
// token rides in the query string.
func (h *Handler) EventStream(auth *middleware.JWTAuth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		subject, err := auth.ValidateToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		instanceID := chi.URLParam(r, "id")
		if _, ok := h.manager.Get(instanceID); !ok {
			http.Error(w, "unknown instance", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS Upgrade Failed: %v", err)
			return
		}
		defer conn.Close()

		log.Printf("WS Connected: subject=%s instance=%s", subject, instanceID)

		events, cancel := h.manager.Hub().Subscribe(instanceID)
		defer cancel()

		// Drain the read side so close frames are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-done:
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case e := <-events:
				if err := conn.WriteJSON(e); err != nil {
					log.Printf("WS Write Error: %v", err)
					return
				}
			}
		}
	}
}

package api

import (
	"canvas-relay/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Tracing first so recovered panics land in the request span.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	// Rooms are joined in-band after the upgrade.
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/stats", h.Stats).Methods("GET")

	api.HandleFunc("/rooms", h.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{code}", h.GetRoom).Methods("GET")
	api.HandleFunc("/rooms/{code}/presence", h.GetRoomPresence).Methods("GET")
	api.HandleFunc("/rooms/{code}/activity", h.GetRoomActivity).Methods("GET")

	api.HandleFunc("/generate-diagram", h.GenerateDiagram).Methods("POST", "OPTIONS")

	return r
}

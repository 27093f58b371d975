package transport

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/dayandersen/brongnal/internal/metrics"
)

// NewRouter builds the full HTTP handler for the rendezvous server: health
// and metrics endpoints, the five X3DH operations, and CORS, matching the
// route-grouping and middleware-wrapping style of the teacher's own
// cmd/chatserver main.
func NewRouter(h *Handlers, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", HealthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/bundles/{identity}/spk", h.RegisterPreKeyBundle).Methods("POST")
	api.HandleFunc("/bundles/{identity}/otk", h.PublishOTKBundle).Methods("POST")
	api.HandleFunc("/bundles/{identity}", h.FetchPreKeyBundle).Methods("GET")
	api.HandleFunc("/messages", h.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{identity}/stream", h.RetrieveMessages).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	return corsHandler.Handler(metrics.MetricsMiddleware(r))
}

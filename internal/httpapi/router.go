package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/queue"
	"github.com/wootrico/wabridge/internal/ticket"
)

// Webhook payloads can carry inlined base64 media, so the ingress route
// accepts far larger bodies than the informational endpoints.
const (
	webhookBodyLimit = 500 << 20
	defaultBodyLimit = 50 << 20
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Queue          queue.Publisher
	Ledger         *ticket.Ledger
	WebhookName    string
	WebhookBaseURL string
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the HTTP router with the webhook ingress endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
	}))

	// Webhook ingress: both providers and the helpdesk POST here.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(webhookBodyLimit))

		r.Post("/"+s.WebhookName, s.EnqueuePrincipal)
		r.Post("/"+s.WebhookName+"/callback", s.EnqueueCallback)
	})

	// Informational endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(defaultBodyLimit))

		r.Get("/health", s.Health)
		r.Get("/webhook-url", s.WebhookURL)
		r.Get("/"+s.WebhookName+"/ticket-stats", s.TicketStats)
	})

	log.Info().Str("webhook", s.WebhookName).Msg("HTTP routes registered")
	return r
}

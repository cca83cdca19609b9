package httpapi

import (
	"net/http"
	"strings"
	"time"
)

// WebhookURLs advertises where the provider panel and the helpdesk
// inbox must deliver their webhooks.
type WebhookURLs struct {
	Principal string `json:"principal"`
	Callback  string `json:"callback"`
	CheckedAt string `json:"checkedAt"`
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebhookURL handles GET /webhook-url
// Returns the externally visible ingress URLs so operators can paste
// them into the provider panel and the helpdesk inbox settings.
func (s *Server) WebhookURL(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(s.WebhookBaseURL, "/")
	writeJSON(w, http.StatusOK, WebhookURLs{
		Principal: base + "/" + s.WebhookName,
		Callback:  base + "/" + s.WebhookName + "/callback",
		CheckedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// TicketStats handles GET /{webhookName}/ticket-stats
// Exposes the echo-suppression ledger for debugging stuck credits.
func (s *Server) TicketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ledger.Stats())
}

package httpapi

import (
	"io"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/queue"
)

// acceptedResponse acknowledges a queued webhook
type acceptedResponse struct {
	Accepted bool   `json:"accepted"`
	Queued   string `json:"queued"`
}

// EnqueuePrincipal handles POST /{webhookName}
// Provider webhooks land here and are queued on the principal subject;
// processing happens asynchronously in the queue consumer.
func (s *Server) EnqueuePrincipal(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, queue.SubjectPrincipal)
}

// EnqueueCallback handles POST /{webhookName}/callback
// Helpdesk webhooks land here and are queued on the callback subject.
func (s *Server) EnqueueCallback(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, queue.SubjectCallback)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, subject string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("could not read webhook body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	body := unwrapEnvelope(raw)
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}

	if err := s.Queue.Publish(subject, body); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("correlationId", GetCorrelationID(r.Context())).
			Msg("failed to enqueue webhook")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "queue unavailable"})
		return
	}

	log.Info().
		Str("subject", subject).
		Int("bytes", len(body)).
		Str("correlationId", GetCorrelationID(r.Context())).
		Msg("webhook queued")
	writeJSON(w, http.StatusOK, acceptedResponse{Accepted: true, Queued: subject})
}

// unwrapEnvelope peels the {"body": {...}} wrapper some provider panels
// put around the webhook they relay. Anything else passes through
// untouched.
func unwrapEnvelope(raw []byte) []byte {
	value, dataType, _, err := jsonparser.Get(raw, "body")
	if err != nil {
		return raw
	}
	switch dataType {
	case jsonparser.Object, jsonparser.Array:
		return value
	default:
		return raw
	}
}

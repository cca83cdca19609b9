package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Stream layout. Both webhook directions land in one stream so a single
// retention policy covers the bridge.
const (
	StreamName = "wootrico"

	SubjectPrincipal = "webhook.principal"
	SubjectCallback  = "webhook.callback"

	DurablePrincipal = "consumer-webhook-principal"
	DurableCallback  = "consumer-webhook-callback"

	WorkerPrincipal = "webhook-principal-consumer"
	WorkerCallback  = "webhook-callback-consumer"
)

const (
	fetchBatch   = 20
	fetchTimeout = 5 * time.Second
)

// Handler processes one queued webhook body. A non-nil error is logged;
// the message is acknowledged either way, because the pipeline treats
// webhook deliveries as at-most-once once accepted.
type Handler func(ctx context.Context, data []byte) error

// Connect dials NATS and returns the connection plus its JetStream
// context. An empty url selects the default local server.
func Connect(url string) (*nats.Conn, nats.JetStreamContext, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("wabridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	log.Info().Str("url", url).Msg("nats connected")
	return nc, js, nil
}

// EnsureStream creates the webhook stream with file storage, updating
// the subject set in place when the stream already exists.
func EnsureStream(js nats.JetStreamContext) error {
	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrincipal, SubjectCallback},
		Storage:  nats.FileStorage,
	}

	_, err := js.AddStream(cfg)
	if err == nil {
		log.Info().Str("stream", StreamName).Msg("stream created")
		return nil
	}
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		if _, err := js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		log.Info().Str("stream", StreamName).Msg("stream updated")
		return nil
	}
	return fmt.Errorf("create stream %s: %w", StreamName, err)
}

// Consume binds a durable pull consumer to subject and runs the fetch
// loop in a goroutine until ctx is done. Handler errors are logged and
// the message is acknowledged regardless, so one poison payload cannot
// wedge the subject.
func Consume(ctx context.Context, js nats.JetStreamContext, subject, durable, worker string, h Handler) error {
	sub, err := js.PullSubscribe(subject, durable, nats.BindStream(StreamName))
	if err != nil {
		return fmt.Errorf("subscribe %s (%s): %w", subject, durable, err)
	}

	go func() {
		defer sub.Unsubscribe()
		log.Info().Str("worker", worker).Str("subject", subject).Msg("consumer started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("worker", worker).Msg("consumer stopped")
				return
			default:
			}

			fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
			msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Str("worker", worker).Msg("fetch failed")
				continue
			}

			for _, msg := range msgs {
				if err := h(ctx, msg.Data); err != nil {
					log.Error().
						Err(err).
						Str("worker", worker).
						Str("subject", subject).
						Msg("message processing failed")
				}
				if err := msg.Ack(); err != nil {
					log.Warn().Err(err).Str("worker", worker).Msg("ack failed")
				}
			}
		}
	}()
	return nil
}

// Publisher abstracts message enqueueing for the HTTP layer.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// JetStreamPublisher adapts a JetStream context to the Publisher
// interface the webhook handlers depend on.
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, data []byte) error {
	if _, err := p.JS.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

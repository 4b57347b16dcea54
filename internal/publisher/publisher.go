package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthVault/internal/event"
	"SynthVault/internal/observability"
)

// OutboundPublisher drains the publish channel and pushes envelopes to NATS
// for downstream consumers. Publishing is best effort: the event log in
// Postgres is the source of truth, so a failed publish is logged and the
// loop moves on.
type OutboundPublisher struct {
	js      jetstream.JetStream
	input   <-chan event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

// wireEnvelope is the JSON shape on the wire.
type wireEnvelope struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	input <-chan event.Envelope,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, log: log, metrics: metrics}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().Int64("sequence", env.Sequence).Err(err).Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Inc()
			}
		}
	}
}

// Subjects follow synth.vault.events.{event_type}.
func (p *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(wireEnvelope{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Timestamp:      env.Timestamp,
		Payload:        env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("synth.vault.events.%s", env.EventType)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SYNTH_VAULT_EVENTS",
		Subjects:  []string{"synth.vault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

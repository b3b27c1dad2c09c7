// Package relay forwards committed change events to Kafka so other
// systems can follow carts and orders without polling.
package relay

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

const Topic = "ordersync.events"

// EventWriter is the slice of kafka.Writer the relay needs.
type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	hub    *broadcast.Hub
	writer EventWriter
	log    zerolog.Logger
}

func NewWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func New(hub *broadcast.Hub, writer EventWriter, log zerolog.Logger) *Relay {
	return &Relay{hub: hub, writer: writer, log: log}
}

// Run forwards events until the context ends or the hub shuts down.
// Delivery is at most once: events dropped by a full buffer or a failed
// write are logged and skipped, never retried.
func (r *Relay) Run(ctx context.Context) {
	sub := r.hub.Subscribe(broadcast.Firehose())
	defer sub.Close()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			r.forward(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) forward(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(map[string]interface{}{
		"kind":        evt.Kind(),
		"occurred_at": evt.At(),
		"data":        evt,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("kind", string(evt.Kind())).Msg("failed to marshal event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(evt.ScopeKey()), // session or order id for partition ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(evt.Kind())},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.log.Warn().Err(err).Str("kind", string(evt.Kind())).Str("scope", evt.ScopeKey()).Msg("failed to publish event")
	}
}

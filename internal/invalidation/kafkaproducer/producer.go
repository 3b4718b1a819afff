// Package kafkaproducer publishes table change events to the invalidation
// topic. Delivery is synchronous; the caller learns whether the broker took
// the event.
package kafkaproducer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/invalidation"
)

// Publisher sends change events keyed by table, so each table's events land
// on one partition and consumers see them in order.
type Publisher struct {
	topic string
	prod  sarama.SyncProducer
	log   zerolog.Logger
}

func New(brokers []string, topic string, log zerolog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkaproducer: brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafkaproducer: topic is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "aoiquery-invalidation-producer"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	// The sync producer needs success returns to report delivery.
	cfg.Producer.Return.Successes = true

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkaproducer: create producer: %w", err)
	}
	return &Publisher{
		topic: topic,
		prod:  prod,
		log:   log.With().Str("component", "invalidation-producer").Logger(),
	}, nil
}

// Publish validates and sends one event, returning after the broker
// acknowledges it. A zero TS is stamped with the current time.
func (p *Publisher) Publish(ev invalidation.Event) error {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Version == 0 {
		ev.Version = 1
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("kafkaproducer: %w", err)
	}
	ref, err := ev.Ref()
	if err != nil {
		return fmt.Errorf("kafkaproducer: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafkaproducer: marshal: %w", err)
	}
	partition, offset, err := p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ref.String()),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("kafkaproducer: send: %w", err)
	}

	p.log.Info().
		Str("table", ref.String()).
		Str("op", ev.Op).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("change event published")
	return nil
}

func (p *Publisher) Close() error {
	return p.prod.Close()
}

// Package kafkaconsumer applies table change events from Kafka to the
// result cache and the capability prober. Each applied event bumps the
// table's version counter; cached results under older versions simply
// stop being addressable and age out by TTL.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/core/observability"
	"github.com/spatialq/aoiquery/internal/invalidation"
)

const consumeRetryBackoff = 2 * time.Second

// Invalidator bumps a table's cache version. Satisfied by cache.ResultCache.
type Invalidator interface {
	BumpTableVersion(ctx context.Context, table string) (int64, error)
}

// CapabilityForgetter drops a cached probe verdict. Satisfied by probe.Prober.
type CapabilityForgetter interface {
	Forget(t model.TableRef)
}

// HotnessResetter clears per-table hotness scores.
type HotnessResetter interface {
	Reset(tables ...string)
}

// Consumer runs a sarama consumer group against the invalidation topic.
type Consumer struct {
	cfg    Config
	log    zerolog.Logger
	store  Invalidator
	prober CapabilityForgetter
	hot    HotnessResetter
	dedupe *eventDedupe

	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	ready    bool
	assigned map[int32]struct{}
}

// New validates cfg and builds a consumer. prober and hot may be nil.
func New(cfg Config, store Invalidator, prober CapabilityForgetter, hot HotnessResetter, log zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka consumer: no topic")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: no group id")
	}
	if store == nil {
		return nil, errors.New("kafka consumer: nil store")
	}
	return &Consumer{
		cfg:      cfg,
		log:      log.With().Str("component", "invalidation").Logger(),
		store:    store,
		prober:   prober,
		hot:      hot,
		dedupe:   newEventDedupe(cfg.DedupeSize),
		assigned: map[int32]struct{}{},
	}, nil
}

// Start joins the consumer group and consumes until ctx is canceled or
// Stop is called. It returns once the group is created; consumption runs
// in the background and rejoins after transient errors.
func (c *Consumer) Start(ctx context.Context) error {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.ClientID = "aoiquery-invalidation"
	sc.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	sc.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.cfg.InitialOffsetOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, sc)
	if err != nil {
		return fmt.Errorf("join consumer group %q: %w", c.cfg.GroupID, err)
	}
	c.group = group

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			observability.IncConsumerError()
			c.log.Warn().Err(err).Msg("consumer group error")
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{c: c}
		for {
			err := group.Consume(runCtx, []string{c.cfg.Topic}, h)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.log.Warn().Err(err).Msg("consume session ended")
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(consumeRetryBackoff):
			}
		}
	}()

	c.log.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("invalidation consumer started")
	return nil
}

// Stop leaves the group and waits for in-flight work to finish.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.group != nil {
		err = c.group.Close()
	}
	c.wg.Wait()
	return err
}

// Readiness reports whether the consumer holds a partition assignment,
// and how many partitions it owns.
func (c *Consumer) Readiness() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready, len(c.assigned)
}

func (c *Consumer) setAssigned(claims map[string][]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned = map[int32]struct{}{}
	for _, parts := range claims {
		for _, p := range parts {
			c.assigned[p] = struct{}{}
		}
	}
	c.ready = len(c.assigned) > 0
}

func (c *Consumer) clearAssigned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned = map[int32]struct{}{}
	c.ready = false
}

// Apply processes one raw message. A nil return commits the offset:
// undecodable or stale events are logged and committed so they cannot
// wedge the partition, while store failures are returned uncommitted
// so the event is redelivered.
func (c *Consumer) Apply(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if !msg.Timestamp.IsZero() {
		observability.SetInvalidationLag(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncConsumerError()
		c.log.Warn().Err(err).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncConsumerError()
		c.log.Warn().Err(err).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping invalid event")
		return nil
	}

	ref, err := ev.Ref()
	if err != nil {
		observability.IncConsumerError()
		c.log.Warn().Err(err).Msg("skipping event with unusable table")
		return nil
	}

	key := ref.String() + "|" + ev.Op
	ts := ev.TS.UnixNano()
	if c.dedupe.stale(key, ts) {
		c.log.Debug().
			Str("table", ref.String()).
			Str("op", ev.Op).
			Time("ts", ev.TS).
			Msg("duplicate or stale event")
		return nil
	}

	if ev.Op == invalidation.OpSchema {
		if c.prober != nil {
			c.prober.Forget(ref)
		}
		if c.hot != nil {
			c.hot.Reset(ref.String())
		}
	}

	version, err := c.store.BumpTableVersion(ctx, ref.String())
	if err != nil {
		observability.IncConsumerError()
		return fmt.Errorf("bump version for %s: %w", ref, err)
	}
	c.dedupe.applied(key, ts)

	observability.ObserveInvalidation(ev.Op)
	c.log.Info().
		Str("table", ref.String()).
		Str("op", ev.Op).
		Int64("version", version).
		Str("source", ev.Source).
		Msg("table invalidated")
	return nil
}

type groupHandler struct {
	c *Consumer
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.c.setAssigned(sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.c.clearAssigned()
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.c.Apply(sess.Context(), msg); err != nil {
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// Command smoketest checks that the backing services the server needs are
// reachable and behave: redis, postgres with PostGIS, the kafka invalidation
// topic, and the H3 cover path. Run it against a fresh dev stack before
// starting aoi-server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/core/model"
	"github.com/spatialq/aoiquery/internal/invalidation"
	"github.com/spatialq/aoiquery/internal/invalidation/kafkaproducer"
	h3mapper "github.com/spatialq/aoiquery/internal/mapper/h3"
	"github.com/spatialq/aoiquery/internal/pgstore"
	"github.com/spatialq/aoiquery/internal/probe"
)

func checkRedis(ctx context.Context, addr string) error {
	fmt.Println("redis check")
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := client.Set(ctx, "smoketest:ping", stamp, 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, "smoketest:ping").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if val != stamp {
		return fmt.Errorf("redis get returned %q, wrote %q", val, stamp)
	}
	fmt.Println("  set/get round trip ok")
	return nil
}

func checkPostgres(ctx context.Context, cfg config.DatabaseCfg, table string) error {
	fmt.Println("postgres check")
	db, err := pgstore.Open(ctx, cfg, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Println("  connected")

	// A probe against a real table tells us PostGIS metadata is in place,
	// not just that the server answers.
	if table == "" {
		fmt.Println("  SMOKE_TABLE not set, skipping capability probe")
		return nil
	}
	ref, err := model.ParseTableRef(table)
	if err != nil {
		fmt.Printf("  WARN bad SMOKE_TABLE %q: %v\n", table, err)
		return nil
	}
	verdict, err := probe.New(db, 8, zerolog.Nop()).SupportsServerRelate(ctx, ref)
	if err != nil {
		fmt.Printf("  WARN probe %s: %v\n", ref, err)
		return nil
	}
	fmt.Printf("  probe %s: supported=%t reason=%q geom=%s srid=%d\n",
		ref, verdict.Supported, verdict.Reason, verdict.GeomColumn, verdict.SRID)
	return nil
}

func checkKafka(brokers []string, topic string) error {
	fmt.Println("kafka check")

	// Subscribe before producing so the round trip cannot race the offset.
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	pub, err := kafkaproducer.New(brokers, topic, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = pub.Close() }()

	ev := invalidation.Event{
		Version: 1,
		Op:      invalidation.OpData,
		Table:   "public.smoke_check",
		TS:      time.Now().UTC(),
		Source:  "smoketest",
	}
	if err := pub.Publish(ev); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Println("  produced one event")

	select {
	case m := <-pc.Messages():
		var got invalidation.Event
		if err := json.Unmarshal(m.Value, &got); err != nil {
			fmt.Printf("  WARN consumed non-event payload: %s\n", string(m.Value))
			return nil
		}
		fmt.Printf("  consumed key=%s table=%s op=%s\n", string(m.Key), got.Table, got.Op)
	case <-time.After(5 * time.Second):
		fmt.Println("  WARN no event consumed within 5s")
	}
	return nil
}

func checkH3(res int) error {
	fmt.Println("h3 check")
	m, err := h3mapper.New(res)
	if err != nil {
		return fmt.Errorf("mapper: %w", err)
	}
	// Small square over central Stockholm.
	square := orb.Polygon{{
		{18.05, 59.32}, {18.09, 59.32}, {18.09, 59.34}, {18.05, 59.34}, {18.05, 59.32},
	}}
	cells, err := m.Cover([]orb.Polygon{square})
	if err != nil {
		return fmt.Errorf("cover: %w", err)
	}
	if len(cells) == 0 {
		return fmt.Errorf("cover returned no cells at res %d", res)
	}
	fmt.Printf("  cover at res %d: %d cells, first %s\n", res, len(cells), cells[0])
	return nil
}

func checkServer(baseURL string) {
	fmt.Println("server check")
	client := &http.Client{Timeout: 3 * time.Second}
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := client.Get(strings.TrimRight(baseURL, "/") + path)
		if err != nil {
			fmt.Printf("  WARN %s: %v\n", path, err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		fmt.Printf("  %s: %d %s\n", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.FromEnv()
	brokers := strings.Split(cfg.Invalidation.Brokers, ",")

	if err := checkRedis(ctx, cfg.RedisAddr); err != nil {
		fmt.Println("redis error:", err)
		os.Exit(1)
	}
	if err := checkPostgres(ctx, cfg.Database, os.Getenv("SMOKE_TABLE")); err != nil {
		fmt.Println("postgres error:", err)
		os.Exit(1)
	}
	if err := checkKafka(brokers, cfg.Invalidation.Topic); err != nil {
		fmt.Println("kafka error:", err)
		os.Exit(1)
	}
	if err := checkH3(cfg.H3Res); err != nil {
		fmt.Println("h3 error:", err)
		os.Exit(1)
	}
	// The server itself may not be running yet; report but do not fail.
	checkServer(getenvDefault("AOI_SERVER_URL", "http://localhost:8090"))
	fmt.Println("all checks completed")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

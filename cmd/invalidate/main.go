// Command invalidate publishes a table change event to the invalidation
// topic. Run it after a bulk load or a migration that the usual change
// sources did not cover.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/spatialq/aoiquery/internal/core/config"
	"github.com/spatialq/aoiquery/internal/invalidation"
	"github.com/spatialq/aoiquery/internal/invalidation/kafkaproducer"
	"github.com/spatialq/aoiquery/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")

	var (
		table   = flag.String("table", "", "target table as schema.name or name (required)")
		op      = flag.String("op", invalidation.OpData, "change kind: data|schema")
		source  = flag.String("source", "cli", "event source tag")
		brokers = flag.String("brokers", "", "kafka brokers, comma separated; overrides KAFKA_BROKERS")
		topic   = flag.String("topic", "", "kafka topic; overrides KAFKA_TOPIC")
	)
	flag.Parse()

	if *table == "" {
		fmt.Fprintln(os.Stderr, "usage: invalidate -table <schema.name> [-op data|schema] [-source tag] [-brokers list] [-topic name]")
		return 2
	}

	cfg := config.FromEnv()
	if *brokers != "" {
		cfg.Invalidation.Brokers = *brokers
	}
	if *topic != "" {
		cfg.Invalidation.Topic = *topic
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "invalidate",
	}, os.Stderr)
	sarama.Logger = logger.NewPrintLogger(zl.With().Str("component", "sarama").Logger())

	pub, err := kafkaproducer.New(splitCSV(cfg.Invalidation.Brokers), cfg.Invalidation.Topic, zl)
	if err != nil {
		zl.Error().Err(err).Msg("producer setup failed")
		return 1
	}
	defer func() { _ = pub.Close() }()

	ev := invalidation.Event{
		Version: 1,
		Op:      strings.ToLower(strings.TrimSpace(*op)),
		Table:   *table,
		TS:      time.Now().UTC(),
		Source:  *source,
	}
	if err := pub.Publish(ev); err != nil {
		zl.Error().Err(err).Msg("publish failed")
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type DatabaseCfg struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
	FetchTimeout time.Duration
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr                   string
	LogLevel               string
	Engine                 string
	Database               DatabaseCfg
	RedisAddr              string
	ResultTTL              time.Duration
	CacheOpTimeout         time.Duration
	MalformedLimit         float64
	ClientWorkers          int
	CapabilityCache        int
	CapabilityProbeTimeout time.Duration
	Invalidation           InvalidationCfg
	HotHalfLife            time.Duration
	HotThreshold           float64
	H3Res                  int
}

func FromEnv() Config {
	res := getint("H3_RES", 6)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	limit := getfloat("MALFORMED_LIMIT", 0.1)
	if limit < 0 {
		limit = 0
	}
	if limit > 1 {
		limit = 1
	}

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Engine:   getenv("ENGINE", "direct"),
		Database: DatabaseCfg{
			DSN:          getenv("DATABASE_URL", buildDSN()),
			MaxOpenConns: getint("PGMAXOPENCONNS", 16),
			MaxIdleConns: getint("PGMAXIDLECONNS", 4),
			QueryTimeout: getduration("QUERY_TIMEOUT", 30*time.Second),
			FetchTimeout: getduration("FETCH_TIMEOUT", 2*time.Minute),
		},
		RedisAddr:              getenv("REDIS_ADDR", "localhost:6379"),
		ResultTTL:              getduration("RESULT_TTL", 60*time.Second),
		CacheOpTimeout:         getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		MalformedLimit:         limit,
		ClientWorkers:          getint("CLIENT_WORKERS", 8),
		CapabilityCache:        getint("CAPABILITY_CACHE_SIZE", 256),
		CapabilityProbeTimeout: getduration("CAPABILITY_PROBE_TIMEOUT", 5*time.Second),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "table-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "aoi-invalidator"),
		},
		HotHalfLife:  getduration("HOT_HALF_LIFE", time.Minute),
		HotThreshold: getfloat("HOT_THRESHOLD", 0),
		H3Res:        res,
	}
}

// assembles a postgres URL from the conventional PG* variables when
// DATABASE_URL is not set
func buildDSN() string {
	host := getenv("PGHOST", "localhost")
	port := getenv("PGPORT", "5432")
	user := getenv("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := getenv("PGDATABASE", "gis")
	ssl := getenv("PGSSLMODE", "disable")

	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Command loadgen drives a running aoi-server with intersect traffic.
// Filters are drawn from a Zipf distribution over a pool, so a few filters
// are hot and the rest form a long tail; with the cached engine that
// produces a realistic hit/miss mix, reported per run.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	TargetURL      string
	Table          string
	Strategy       string
	FilterColumn   string
	FilterFile     string
	FilterCount    int
	NoCachePct     int
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	OutputPrefix   string
	RequestTimeout time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090", "aoi-server base URL")
	flag.StringVar(&cfg.Table, "table", "gis.parcels", "table to query")
	flag.StringVar(&cfg.Strategy, "strategy", "auto", "strategy for every request: auto|server|client")
	flag.StringVar(&cfg.FilterColumn, "filter-col", "id", "column used by synthetic filters")
	flag.StringVar(&cfg.FilterFile, "filters", "", "optional file with one filter per line; overrides synthetic pool")
	flag.IntVar(&cfg.FilterCount, "filter-count", 128, "distinct filters in the synthetic pool")
	flag.IntVar(&cfg.NoCachePct, "nocache-pct", 0, "percent of requests sent with Cache-Control: no-cache")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "per-request timeout")
	flag.Parse()
	return cfg
}

// makeFilters builds the synthetic pool. Index 0 is the unfiltered query,
// which the Zipf skew makes the hottest entry.
func makeFilters(col string, count int) []string {
	filters := make([]string, 0, count)
	filters = append(filters, "")
	step := 100
	for i := 1; i < count; i++ {
		filters = append(filters, fmt.Sprintf("%s > %d", col, i*step))
	}
	return filters
}

func loadFilterFile(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open filters: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return nil, errors.New("filter file holds no filters")
	}
	return out, nil
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	FilterIdx int
	Cache     string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	CacheBypass   int64     `json:"cache_bypass"`
	HitRatio      float64   `json:"hit_ratio"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Filters       int       `json:"filters"`
	TargetURL     string    `json:"target"`
	Table         string    `json:"table"`
	Strategy      string    `json:"strategy"`
}

type aggregated struct {
	total, success, errors int64
	hits, misses, bypass   int64
	latMs                  []float64
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	var filters []string
	if strings.TrimSpace(cfg.FilterFile) != "" {
		pool, err := loadFilterFile(cfg.FilterFile)
		if err != nil {
			log.Printf("WARN: %v; falling back to synthetic filters", err)
		} else {
			filters = pool
			log.Printf("using %d filters from %s", len(filters), cfg.FilterFile)
		}
	}
	if len(filters) == 0 {
		filters = makeFilters(cfg.FilterColumn, cfg.FilterCount)
		log.Printf("using %d synthetic filters on column %s", len(filters), cfg.FilterColumn)
	}
	imax := uint64(len(filters)) - 1

	target := strings.TrimRight(cfg.TargetURL, "/") + "/v1/tables/" + url.PathEscape(cfg.Table) + "/intersect"

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregated, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "filter_idx", "cache"})
		var agg aggregated
		agg.latMs = make([]float64, 0, 1<<20)
		for s := range samplesChan {
			agg.total++
			if s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 {
				agg.success++
				agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
				switch s.Cache {
				case "hit":
					agg.hits++
				case "miss":
					agg.misses++
				case "bypass":
					agg.bypass++
				}
			} else {
				agg.errors++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Status),
				s.ErrorMsg,
				fmt.Sprintf("%d", s.FilterIdx),
				s.Cache,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- agg
	}()

	seed := time.Now().UnixNano()
	startTime := time.Now()
	log.Printf("loadgen start target=%s table=%s strategy=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) filters=%d nocache=%d%%",
		target, cfg.Table, cfg.Strategy, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(filters), cfg.NoCachePct)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := 0; workerID < cfg.Concurrency; workerID++ {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipfDist := rand.NewZipf(rWorker, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) {
					continue
				}
				idx := int(v)
				if idx >= len(filters) {
					continue
				}

				u, _ := url.Parse(target)
				q := u.Query()
				if cfg.Strategy != "" {
					q.Set("strategy", cfg.Strategy)
				}
				if filters[idx] != "" {
					q.Set("filter", filters[idx])
				}
				u.RawQuery = q.Encode()

				startReq := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
				req.Header.Set("Accept", "application/json")
				if cfg.NoCachePct > 0 && rWorker.Intn(100) < cfg.NoCachePct {
					req.Header.Set("Cache-Control", "no-cache")
				}
				resp, err := httpClient.Do(req)
				latency := time.Since(startReq)

				result := sample{Timestamp: startReq, Latency: latency, FilterIdx: idx}
				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					result.Cache = resp.Header.Get("X-Cache")
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	p50 := percentile(agg.latMs, 50)
	p95 := percentile(agg.latMs, 95)
	p99 := percentile(agg.latMs, 99)

	hitRatio := 0.0
	if counted := agg.hits + agg.misses; counted > 0 {
		hitRatio = float64(agg.hits) / float64(counted)
	}

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		CacheHits:     agg.hits,
		CacheMisses:   agg.misses,
		CacheBypass:   agg.bypass,
		HitRatio:      hitRatio,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Filters:       len(filters),
		TargetURL:     target,
		Table:         cfg.Table,
		Strategy:      cfg.Strategy,
	}

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms hits=%d misses=%d ratio=%.2f",
		agg.total, agg.success, agg.errors, runSummary.ThroughputRPS, p50, p95, p99, agg.hits, agg.misses, hitRatio)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}

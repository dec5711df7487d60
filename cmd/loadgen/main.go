// loadgen drives POST /weather with a Zipf-skewed mix of coordinates and
// reports cache hit ratio and latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	Points         int
	Jitter         float64
	RequestTimeout time.Duration
	Output         string
	Brokers        string
	RefreshTopic   string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/weather", "Weather endpoint URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Points, "points", 128, "Distinct base coordinates in pool")
	flag.Float64Var(&cfg.Jitter, "jitter", 0.04, "Max degrees of jitter added to each request")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.Output, "out", "", "Optional JSON summary path")
	flag.StringVar(&cfg.Brokers, "kafka-brokers", "", "Send one refresh request per hot point to these brokers before the run")
	flag.StringVar(&cfg.RefreshTopic, "refresh-topic", "weather-refresh-requests", "Refresh request topic")
	flag.Parse()
	return cfg
}

type point struct{ Lat, Lon float64 }

// makePoints puts the first quarter around a few cities and scatters the rest.
func makePoints(count int, r *rand.Rand) []point {
	cities := []point{
		{55.7558, 37.6173}, // Moscow
		{59.9343, 30.3351}, // Saint Petersburg
		{59.3293, 18.0686}, // Stockholm
		{52.5200, 13.4050}, // Berlin
	}
	out := make([]point, 0, count)
	hot := max(len(cities), count/4)
	for i := range hot {
		c := cities[i%len(cities)]
		out = append(out, point{c.Lat + (r.Float64()-0.5)*0.1, c.Lon + (r.Float64()-0.5)*0.1})
	}
	for len(out) < count {
		out = append(out, point{-60 + r.Float64()*130, -180 + r.Float64()*360})
	}
	return out
}

type summary struct {
	StartTime     time.Time `json:"start"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	OK            int64     `json:"ok"`
	Wait          int64     `json:"wait"`
	Errors        int64     `json:"errors"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	HitRatio      float64   `json:"hit_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	TargetURL     string    `json:"target"`
}

type sample struct {
	latency time.Duration
	status  string
	hit     bool
	err     bool
}

func main() {
	cfg := loadConfig()

	seed := time.Now().UnixNano()
	points := makePoints(cfg.Points, rand.New(rand.NewSource(seed)))
	if len(points) == 0 {
		log.Fatalf("no points generated")
	}

	if cfg.Brokers != "" {
		if err := sendRefreshRequests(cfg, points[:min(4, len(points))]); err != nil {
			log.Printf("WARN: refresh requests: %v", err)
		}
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samples := make(chan sample, 4096)
	done := make(chan summary, 1)
	go func() {
		var s summary
		lat := make([]float64, 0, 1<<16)
		for sm := range samples {
			s.TotalRequests++
			switch {
			case sm.err:
				s.Errors++
				continue
			case sm.status == "wait":
				s.Wait++
			default:
				s.OK++
			}
			if sm.hit {
				s.Hits++
			} else {
				s.Misses++
			}
			lat = append(lat, float64(sm.latency.Microseconds())/1000.0)
		}
		sort.Float64s(lat)
		s.P50Ms, s.P95Ms, s.P99Ms = percentile(lat, 50), percentile(lat, 95), percentile(lat, 99)
		done <- s
	}()

	start := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) points=%d",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(points))

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Go(func() {
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, uint64(len(points)-1))
			for ctx.Err() == nil {
				p := points[zipf.Uint64()]
				lat := clamp(p.Lat+(r.Float64()*2-1)*cfg.Jitter, -90, 90)
				lon := clamp(p.Lon+(r.Float64()*2-1)*cfg.Jitter, -180, 180)
				sm := doRequest(ctx, httpClient, cfg.TargetURL, lat, lon)
				select {
				case samples <- sm:
				case <-ctx.Done():
					return
				}
			}
		})
	}
	wg.Wait()
	close(samples)

	s := <-done
	s.StartTime = start.UTC()
	s.DurationSec = time.Since(start).Seconds()
	s.ThroughputRPS = float64(s.TotalRequests) / s.DurationSec
	if n := s.Hits + s.Misses; n > 0 {
		s.HitRatio = float64(s.Hits) / float64(n)
	}
	s.Concurrency = cfg.Concurrency
	s.TargetURL = cfg.TargetURL

	log.Printf("done: total=%d ok=%d wait=%d err=%d hit_ratio=%.3f thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		s.TotalRequests, s.OK, s.Wait, s.Errors, s.HitRatio, s.ThroughputRPS, s.P50Ms, s.P95Ms, s.P99Ms)

	if cfg.Output != "" {
		if err := writeSummary(cfg.Output, s); err != nil {
			log.Printf("write summary: %v", err)
			return
		}
		log.Printf("wrote %s", cfg.Output)
	}
}

func doRequest(ctx context.Context, hc *http.Client, target string, lat, lon float64) sample {
	body, _ := json.Marshal(map[string]float64{"lat": lat, "lon": lon})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return sample{err: true}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return sample{err: true, latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil || resp.StatusCode != http.StatusOK {
		return sample{err: true, latency: time.Since(start)}
	}
	return sample{
		latency: time.Since(start),
		status:  out.Status,
		hit:     resp.Header.Get("X-Cache") == "hit",
	}
}

func sendRefreshRequests(cfg Config, pts []point) error {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(strings.Split(cfg.Brokers, ","), sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	for _, p := range pts {
		msg, _ := json.Marshal(map[string]any{
			"version": 1,
			"lat":     p.Lat,
			"lon":     p.Lon,
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		})
		if _, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: cfg.RefreshTopic, Value: sarama.ByteEncoder(msg),
		}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	log.Printf("sent %d refresh requests to %s", len(pts), cfg.RefreshTopic)
	return nil
}

func writeSummary(path string, s summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

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

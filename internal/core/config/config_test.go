package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()
	if c.Addr != ":8090" {
		t.Fatalf("Addr=%q", c.Addr)
	}
	if c.Store.Driver != "redis" || c.Store.OpTimeout != 250*time.Millisecond {
		t.Fatalf("store defaults: %+v", c.Store)
	}
	if c.Bucket.Scheme != "grid" || c.Bucket.Precision != 1 {
		t.Fatalf("bucket defaults: %+v", c.Bucket)
	}
	if c.Refresh.Interval != time.Hour || c.Refresh.Concurrency != 4 {
		t.Fatalf("refresh defaults: %+v", c.Refresh)
	}
	if c.WaitRetry != 300*time.Second {
		t.Fatalf("WaitRetry=%v", c.WaitRetry)
	}
	if c.Upstream.Provider != "openweather" || c.Upstream.Units != "metric" || c.Upstream.Lang != "ru" {
		t.Fatalf("upstream defaults: %+v", c.Upstream)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("BUCKET_PRECISION", "9")
	t.Setenv("REFRESH_INTERVAL", "120")
	t.Setenv("WAIT_RETRY_AFTER", "45s")
	t.Setenv("REFRESH_CONCURRENCY", "0")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	c := FromEnv()
	if c.Store.Driver != "postgres" {
		t.Fatalf("driver=%q", c.Store.Driver)
	}
	if c.Bucket.Precision != 6 {
		t.Fatalf("precision not clamped: %d", c.Bucket.Precision)
	}
	if c.Refresh.Interval != 120*time.Second {
		t.Fatalf("bare seconds not parsed: %v", c.Refresh.Interval)
	}
	if c.WaitRetry != 45*time.Second {
		t.Fatalf("WaitRetry=%v", c.WaitRetry)
	}
	if c.Refresh.Concurrency != 1 {
		t.Fatalf("concurrency floor: %d", c.Refresh.Concurrency)
	}
	if !c.Kafka.EventsEnabled {
		t.Fatalf("events should be enabled")
	}
	if got := c.Kafka.BrokerList(); len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("brokers=%v", got)
	}
}

func TestGetDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_DUR", "soon")
	if d := getduration("X_DUR", 3*time.Second); d != 3*time.Second {
		t.Fatalf("got %v", d)
	}
}

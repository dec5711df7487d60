package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/health"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

type staticLookup struct{}

func (staticLookup) Lookup(context.Context, float64, float64) (model.Outcome, error) {
	return model.Outcome{Kind: model.OutcomeOK, Source: model.SourceFetched, Payload: model.Payload{Location: "Moscow"}, Timestamp: 1}, nil
}

func TestNewHandler_Routes(t *testing.T) {
	h := NewHandler(slog.New(slog.DiscardHandler), Deps{
		Weather: staticLookup{},
		Ready:   map[string]health.Check{"store": func(context.Context) error { return nil }},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/weather", "application/json", strings.NewReader(`{"lat":55.75,"lon":37.62}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Cache") != "miss" || resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("POST /weather status=%d headers=%v", resp.StatusCode, resp.Header)
	}

	for path, want := range map[string]int{
		"/weather?lat=1&lon=2": http.StatusOK,
		"/weather?lat=100":     http.StatusBadRequest,
		"/healthz":             http.StatusOK,
		"/readyz":              http.StatusOK,
		"/metrics":             http.StatusOK,
		"/query":               http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s status=%d want %d", path, resp.StatusCode, want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, "127.0.0.1:0", slog.New(slog.DiscardHandler), http.NotFoundHandler()) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// Package server assembles the HTTP surface and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/weather-bucket-cache/internal/core/middleware"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/router"
)

type Deps struct {
	Weather router.WeatherLookup
	Ready   map[string]health.Check
	// Metrics defaults to the process-wide Prometheus handler.
	Metrics http.Handler
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Handle("/metrics", d.Metrics)

	weather := router.HandleWeather(logger, d.Weather)
	r.Post("/weather", weather)
	r.Get("/weather", weather)
	return r
}

// Run serves h on addr until ctx is done, then drains in-flight requests.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

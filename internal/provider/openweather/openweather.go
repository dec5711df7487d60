// Package openweather fetches current conditions from the OpenWeatherMap
// current weather endpoint.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
)

const (
	Name       = "openweather"
	DefaultURL = "https://api.openweathermap.org/data/2.5/weather"

	maxBody = 1 << 20
)

type Config struct {
	URL    string
	APIKey string
	Units  string
	Lang   string
	// MaxFailures consecutive upstream failures open the breaker for
	// OpenTimeout. Zero disables tripping.
	MaxFailures int
	OpenTimeout time.Duration
}

type Client struct {
	hc      *http.Client
	cfg     Config
	circuit *gobreaker.CircuitBreaker
}

func New(hc *http.Client, cfg Config) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 2 * time.Minute
	}
	maxFailures := uint32(0)
	if cfg.MaxFailures > 0 {
		maxFailures = uint32(cfg.MaxFailures)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return maxFailures > 0 && c.ConsecutiveFailures >= maxFailures
		},
		// a malformed body still means the upstream answered
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, provider.ErrShape)
		},
	})
	return &Client{hc: hc, cfg: cfg, circuit: cb}
}

func (c *Client) Name() string { return Name }

type currentResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

func (c *Client) Fetch(ctx context.Context, lat, lon float64) (model.Payload, error) {
	if c.cfg.APIKey == "" {
		return model.Payload{}, provider.Errorf(provider.KindConfig, Name, "api key is not configured")
	}

	start := time.Now()
	res, err := c.circuit.Execute(func() (any, error) {
		return c.call(ctx, lat, lon)
	})
	observability.ObserveUpstreamLatency(Name, time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.Payload{}, &provider.Error{Kind: provider.KindCircuitOpen, Provider: Name, Err: err}
	}
	if err != nil {
		return model.Payload{}, err
	}
	p, ok := res.(model.Payload)
	if !ok {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "unexpected result %T", res)
	}
	return p, nil
}

func (c *Client) call(ctx context.Context, lat, lon float64) (model.Payload, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)
	if c.cfg.Lang != "" {
		q.Set("lang", c.cfg.Lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return model.Payload{}, provider.Errorf(provider.KindConfig, Name, "build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return model.Payload{}, &provider.Error{Kind: provider.KindTransport, Provider: Name, Err: redact(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return model.Payload{}, &provider.Error{Kind: provider.KindStatus, Provider: Name, Status: resp.StatusCode}
	}

	var body currentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "decode: %w", err)
	}
	if body.Main.Temp == nil {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "missing main.temp")
	}
	if len(body.Weather) == 0 {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "empty weather list")
	}
	return model.Payload{
		Location:    body.Name,
		Temperature: *body.Main.Temp,
		Description: body.Weather[0].Description,
		Icon:        body.Weather[0].Icon,
	}, nil
}

// redact drops the request URL (it carries appid) from transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return errors.New(ue.Op + ": " + ue.Err.Error())
	}
	return err
}

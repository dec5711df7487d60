// Package openmeteo fetches current conditions from Open-Meteo. The API is
// keyless and has no place names, so Location is the queried coordinate.
package openmeteo

import (
	"context"
	"fmt"
	"time"

	"github.com/hectormalot/omgo"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
)

const Name = "openmeteo"

type forecaster interface {
	Forecast(ctx context.Context, loc omgo.Location, opts *omgo.Options) (*omgo.Forecast, error)
}

type Client struct {
	om    forecaster
	units string
}

// New builds a client; baseURL overrides the public endpoint when set.
func New(baseURL, units string) (*Client, error) {
	om, err := omgo.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Open-Meteo client: %w", err)
	}
	if baseURL != "" {
		om.URL = baseURL
	}
	return &Client{om: &om, units: units}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) options() *omgo.Options {
	opts := &omgo.Options{Timezone: "UTC"}
	switch c.units {
	case "imperial":
		opts.TemperatureUnit = "fahrenheit"
		opts.WindspeedUnit = "mph"
	default:
		opts.TemperatureUnit = "celsius"
		opts.WindspeedUnit = "kmh"
	}
	return opts
}

func (c *Client) Fetch(ctx context.Context, lat, lon float64) (model.Payload, error) {
	loc, err := omgo.NewLocation(lat, lon)
	if err != nil {
		return model.Payload{}, provider.Errorf(provider.KindConfig, Name, "location: %w", err)
	}

	start := time.Now()
	fc, err := c.om.Forecast(ctx, loc, c.options())
	observability.ObserveUpstreamLatency(Name, time.Since(start).Seconds())
	if err != nil {
		// omgo folds non-200 answers into plain errors
		return model.Payload{}, &provider.Error{Kind: provider.KindTransport, Provider: Name, Err: err}
	}
	if fc == nil {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "empty forecast")
	}

	code := int(fc.CurrentWeather.WeatherCode)
	desc, ok := wmoDescriptions[code]
	if !ok {
		return model.Payload{}, provider.Errorf(provider.KindShape, Name, "unknown weather code %d", code)
	}
	return model.Payload{
		Location:    fmt.Sprintf("%.2f,%.2f", lat, lon),
		Temperature: fc.CurrentWeather.Temperature,
		Description: desc,
		Icon:        wmoIcons[code],
	}, nil
}

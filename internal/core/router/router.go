// Package router decodes, validates and encodes the /weather endpoint.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/bucket"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
)

const (
	route        = "/weather"
	maxBodyBytes = 1 << 16
)

// WeatherLookup serves one validated coordinate.
type WeatherLookup interface {
	Lookup(ctx context.Context, lat, lon float64) (model.Outcome, error)
}

type WeatherRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type okResponse struct {
	Status    string        `json:"status"`
	Data      model.Payload `json:"data"`
	Timestamp int64         `json:"timestamp"`
}

type waitResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
}

// HandleWeather serves POST /weather (JSON body) and GET /weather?lat=&lon=.
func HandleWeather(logger *slog.Logger, h WeatherLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
		}()

		lat, lon, err := ParseWeatherRequest(r)
		if err != nil {
			writeJSON(sw, http.StatusBadRequest, errorResponse{Status: "error", Message: err.Error()})
			return
		}

		out, err := h.Lookup(r.Context(), lat, lon)
		switch {
		case errors.Is(err, bucket.ErrInvalidCoordinate):
			writeJSON(sw, http.StatusBadRequest, errorResponse{Status: "error", Message: err.Error()})
			return
		case errors.Is(err, recordstore.ErrStorage):
			logger.ErrorContext(r.Context(), "weather lookup storage failure", "err", err)
			writeJSON(sw, http.StatusInternalServerError, errorResponse{Status: "error", Message: "storage unavailable"})
			return
		case err != nil:
			logger.ErrorContext(r.Context(), "weather lookup failed", "err", err)
			writeJSON(sw, http.StatusInternalServerError, errorResponse{Status: "error", Message: "internal error"})
			return
		}

		if out.Source == model.SourceCached {
			sw.Header().Set("X-Cache", "hit")
		} else {
			sw.Header().Set("X-Cache", "miss")
		}
		sw.Header().Set("X-Bucket", out.BucketID)

		if out.Kind == model.OutcomeWait {
			sw.Header().Set("Retry-After", strconv.Itoa(out.RetryAfter))
			writeJSON(sw, http.StatusOK, waitResponse{Status: "wait", Message: out.Message, RetryAfter: out.RetryAfter})
			return
		}
		writeJSON(sw, http.StatusOK, okResponse{Status: "ok", Data: out.Payload, Timestamp: out.Timestamp})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseWeatherRequest reads lat/lon from a JSON body (POST) or the query
// string (GET) and validates both.
func ParseWeatherRequest(r *http.Request) (float64, float64, error) {
	var req WeatherRequest
	switch r.Method {
	case http.MethodPost:
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || mt != "application/json" {
				return 0, 0, errors.New("content type must be application/json")
			}
		}
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, 0, errors.New("request body is empty")
			}
			return 0, 0, fmt.Errorf("invalid JSON body: %w", err)
		}
	default:
		q := r.URL.Query()
		var err error
		if req.Lat, err = queryFloat(q.Get("lat")); err != nil {
			return 0, 0, fmt.Errorf("lat: %w", err)
		}
		if req.Lon, err = queryFloat(q.Get("lon")); err != nil {
			return 0, 0, fmt.Errorf("lon: %w", err)
		}
	}

	if err := validate.Struct(req); err != nil {
		return 0, 0, describe(err)
	}
	return *req.Lat, *req.Lon, nil
}

func queryFloat(v string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, errors.New("must be a number")
	}
	return &f, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid request: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gte", "lte":
			if fe.Field() == "lat" {
				msgs = append(msgs, "lat must be in [-90,90]")
			} else {
				msgs = append(msgs, "lon must be in [-180,180]")
			}
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

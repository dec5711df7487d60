// Package weather answers coordinate lookups from the bucket cache, falling
// back to a coordinated upstream fetch on a miss.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/bucket"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/fetch"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/logger"
)

const waitMessage = "weather data is being fetched, try again later"

var (
	ErrInvalidCoordinate = bucket.ErrInvalidCoordinate
	ErrStorage           = recordstore.ErrStorage
)

// Resolver fetches and stores a bucket that is not cached yet.
type Resolver interface {
	Resolve(ctx context.Context, b model.Bucket) (model.Record, error)
}

// Tracker records demand per bucket.
type Tracker interface {
	Inc(bucketID string)
}

type Options struct {
	RetryAfter time.Duration
	Tracker    Tracker
	Logger     *slog.Logger
}

type Service struct {
	bucketer   bucket.Bucketer
	store      recordstore.Store
	resolver   Resolver
	retryAfter time.Duration
	tracker    Tracker
	log        *slog.Logger
}

func New(b bucket.Bucketer, store recordstore.Store, r Resolver, opt Options) *Service {
	s := &Service{
		bucketer:   b,
		store:      store,
		resolver:   r,
		retryAfter: opt.RetryAfter,
		tracker:    opt.Tracker,
		log:        opt.Logger,
	}
	if s.retryAfter <= 0 {
		s.retryAfter = 300 * time.Second
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Lookup returns cached weather for the bucket containing (lat, lon), or
// fetches it. Upstream trouble yields a wait outcome, not an error; the
// returned error is reserved for invalid input and storage failures.
func (s *Service) Lookup(ctx context.Context, lat, lon float64) (model.Outcome, error) {
	b, err := s.bucketer.Bucket(lat, lon)
	if err != nil {
		return model.Outcome{}, err
	}
	ctx = logger.WithBucket(ctx, b.ID)
	if s.tracker != nil {
		s.tracker.Inc(b.ID)
	}

	start := time.Now()
	rec, ok, err := s.store.Get(ctx, b.ID)
	observability.ObserveCacheOp("lookup", err, time.Since(start).Seconds())
	if err != nil {
		s.log.ErrorContext(ctx, "cache read failed", "err", err)
		return model.Outcome{}, fmt.Errorf("lookup %s: %w", b.ID, err)
	}
	if ok && rec.HasPayload() {
		observability.IncCacheHit()
		s.log.DebugContext(logger.WithCacheResult(ctx, "hit"), "cache hit")
		return model.Outcome{
			Kind:      model.OutcomeOK,
			Source:    model.SourceCached,
			BucketID:  b.ID,
			Payload:   *rec.Payload,
			Timestamp: rec.LastUpdated,
		}, nil
	}

	observability.IncCacheMiss()
	if ok {
		// reuse the stored representative point for a known, empty bucket
		b = rec.Bucket()
	}
	fetched, err := s.resolver.Resolve(ctx, b)
	switch {
	case err == nil:
		s.log.DebugContext(logger.WithCacheResult(ctx, "miss"), "fetched from upstream")
		return model.Outcome{
			Kind:      model.OutcomeOK,
			Source:    model.SourceFetched,
			BucketID:  b.ID,
			Payload:   *fetched.Payload,
			Timestamp: fetched.LastUpdated,
		}, nil
	case errors.Is(err, ErrStorage):
		return model.Outcome{}, fmt.Errorf("lookup %s: %w", b.ID, err)
	case errors.Is(err, fetch.ErrUpstream), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		observability.IncCacheWait()
		s.log.InfoContext(logger.WithCacheResult(ctx, "wait"), "upstream unavailable", "err", err)
		return s.wait(b.ID), nil
	default:
		return model.Outcome{}, fmt.Errorf("lookup %s: %w", b.ID, err)
	}
}

func (s *Service) wait(bucketID string) model.Outcome {
	return model.Outcome{
		Kind:       model.OutcomeWait,
		BucketID:   bucketID,
		RetryAfter: int(s.retryAfter / time.Second),
		Message:    waitMessage,
	}
}

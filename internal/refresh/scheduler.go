// Package refresh periodically re-fetches every known bucket so cached
// weather converges to upstream without waiting for a miss.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/events"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
)

const jobName = "bucket_refresh"

var ErrUnknownBucket = errors.New("unknown bucket")

// Ranker orders bucket ids by priority; hottest first.
type Ranker interface {
	Rank(ids []string) []string
}

// pruner is implemented by rankers that keep per-bucket state.
type pruner interface {
	Prune(floor float64) int
}

const pruneFloor = 0.01

type Options struct {
	Interval    time.Duration
	Concurrency int
	// Timeout bounds each upstream call.
	Timeout    time.Duration
	RunOnStart bool
	Ranker     Ranker
	Events     events.Publisher
	Logger     *slog.Logger
	Now        func() time.Time
}

type Summary struct {
	Total     int
	Refreshed int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Err       error
}

type Scheduler struct {
	store    recordstore.Store
	provider provider.Client
	opt      Options

	cron gocron.Scheduler

	mu      sync.Mutex
	started bool
}

func New(store recordstore.Store, p provider.Client, opt Options) (*Scheduler, error) {
	if opt.Interval <= 0 {
		opt.Interval = time.Hour
	}
	if opt.Concurrency < 1 {
		opt.Concurrency = 1
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	if opt.Events == nil {
		opt.Events = events.Noop{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{store: store, provider: p, opt: opt, cron: cron}, nil
}

// Start registers the periodic job and starts the scheduler. Ticks never
// overlap; a tick still running when the next is due pushes it back.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("refresh scheduler already started")
	}

	jobOpts := []gocron.JobOption{
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	}
	if s.opt.RunOnStart {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	if _, err := s.cron.NewJob(gocron.DurationJob(s.opt.Interval), gocron.NewTask(s.tick), jobOpts...); err != nil {
		return fmt.Errorf("failed to create %s job: %w", jobName, err)
	}
	s.cron.Start()
	s.started = true
	s.opt.Logger.Info("refresh scheduler started", "interval", s.opt.Interval, "concurrency", s.opt.Concurrency)
	return nil
}

// Stop waits for a running tick to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("refresh scheduler shutdown: %w", err)
	}
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	sum := s.RunOnce(ctx)
	if p, ok := s.opt.Ranker.(pruner); ok {
		if n := p.Prune(pruneFloor); n > 0 {
			s.opt.Logger.DebugContext(ctx, "pruned cold hotness counters", "count", n)
		}
	}
	attrs := []any{
		"total", sum.Total, "refreshed", sum.Refreshed, "failed", sum.Failed,
		"skipped", sum.Skipped, "took", sum.Duration,
	}
	if sum.Err != nil {
		s.opt.Logger.WarnContext(ctx, "refresh tick finished with failures", append(attrs, "err", sum.Err)...)
		return
	}
	s.opt.Logger.InfoContext(ctx, "refresh tick finished", attrs...)
}

// RunOnce refreshes every known bucket once. Per-bucket failures are
// collected in Summary.Err and never stop the remaining buckets.
func (s *Scheduler) RunOnce(ctx context.Context) (sum Summary) {
	start := s.opt.Now()
	defer func() {
		sum.Duration = s.opt.Now().Sub(start)
		observability.ObserveRefreshRun(sum.Refreshed, sum.Failed, sum.Duration.Seconds())
	}()

	ids, err := s.store.ListBucketIDs(ctx)
	if err != nil {
		sum.Err = fmt.Errorf("list buckets: %w", err)
		return sum
	}
	if s.opt.Ranker != nil {
		ids = s.opt.Ranker.Rank(ids)
	}
	sum.Total = len(ids)

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	var g errgroup.Group
	g.SetLimit(s.opt.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := s.refresh(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sum.Refreshed++
			case errors.Is(err, ErrUnknownBucket):
				sum.Skipped++
			default:
				sum.Failed++
				errs = multierror.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		errs = multierror.Append(errs, fmt.Errorf("refresh interrupted: %w", ctx.Err()))
	}
	sum.Err = errs.ErrorOrNil()
	return sum
}

// RefreshBucket refreshes one bucket that already has a record. Unknown
// buckets return ErrUnknownBucket and cause no upstream call.
func (s *Scheduler) RefreshBucket(ctx context.Context, bucketID string) error {
	return s.refresh(ctx, bucketID)
}

func (s *Scheduler) refresh(ctx context.Context, id string) error {
	rec, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("refresh %s: %w", id, ErrUnknownBucket)
	}

	payload, err := s.fetch(ctx, rec.Bucket())
	observability.IncUpstreamFetch(s.provider.Name(), err)
	if err != nil {
		// the stored record stays as it was
		return fmt.Errorf("refresh %s: %w", id, err)
	}

	next := model.Record{
		BucketID:    rec.BucketID,
		Lat:         rec.Lat,
		Lon:         rec.Lon,
		Payload:     &payload,
		LastUpdated: s.opt.Now().Unix(),
	}
	if err := s.store.Put(ctx, next); err != nil {
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	s.opt.Events.Publish(events.Event{Type: events.Refreshed, BucketID: id, Lat: rec.Lat, Lon: rec.Lon})
	return nil
}

func (s *Scheduler) fetch(ctx context.Context, b model.Bucket) (p model.Payload, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &provider.Error{Kind: provider.KindTransport, Provider: s.provider.Name(), Err: fmt.Errorf("provider panic: %v", r)}
		}
	}()
	return s.provider.Fetch(ctx, b.Lat, b.Lon)
}

// Package fetch coordinates upstream fetches so that concurrent misses on the
// same bucket produce one provider call and one stored record.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/events"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
)

const numShards = 32

var (
	ErrUpstream = errors.New("upstream fetch failed")
	ErrStorage  = recordstore.ErrStorage
)

// FetchError reports a provider failure for one bucket.
type FetchError struct {
	Bucket string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch bucket %s: %v", e.Bucket, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

type Options struct {
	// Timeout bounds one upstream call, independent of any caller.
	Timeout time.Duration
	Events  events.Publisher
	Logger  *slog.Logger
	Now     func() time.Time
}

type Coordinator struct {
	store    recordstore.Store
	provider provider.Client
	timeout  time.Duration
	events   events.Publisher
	log      *slog.Logger
	now      func() time.Time

	shards   [numShards]singleflight.Group
	inflight atomic.Int64
}

func New(store recordstore.Store, p provider.Client, opt Options) *Coordinator {
	c := &Coordinator{
		store:    store,
		provider: p,
		timeout:  opt.Timeout,
		events:   opt.Events,
		log:      opt.Logger,
		now:      opt.Now,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.events == nil {
		c.events = events.Noop{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Resolve fetches b from upstream and stores the result, joining an
// in-flight fetch for the same bucket if there is one. The leader re-reads
// the store first and returns a record some earlier flight already stored. Every caller that
// joined the same flight receives the same record or error. A failed flight
// leaves nothing behind; the next Resolve starts a fresh upstream call.
//
// If ctx ends first Resolve returns ctx.Err() and the flight carries on for
// the remaining callers.
func (c *Coordinator) Resolve(ctx context.Context, b model.Bucket) (model.Record, error) {
	g := &c.shards[xxhash.Sum64String(b.ID)%numShards]

	led := false
	ch := g.DoChan(b.ID, func() (any, error) {
		led = true
		return c.lead(ctx, b)
	})

	select {
	case res := <-ch:
		if !led {
			observability.IncSingleflight(true)
		}
		if res.Err != nil {
			return model.Record{}, res.Err
		}
		return res.Val.(model.Record), nil
	case <-ctx.Done():
		return model.Record{}, ctx.Err()
	}
}

// Inflight reports the number of upstream fetches currently running.
func (c *Coordinator) Inflight() int { return int(c.inflight.Load()) }

func (c *Coordinator) lead(parent context.Context, b model.Bucket) (rec model.Record, err error) {
	c.inflight.Add(1)
	observability.AddInflight(1)
	defer func() {
		c.inflight.Add(-1)
		observability.AddInflight(-1)
	}()

	// the flight outlives whichever caller happened to start it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()
	observability.IncSingleflight(false)

	// a flight that finished between the caller's miss and this one
	// already stored the bucket
	cur, ok, err := c.store.Get(ctx, b.ID)
	if err != nil {
		if !errors.Is(err, ErrStorage) {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return model.Record{}, fmt.Errorf("recheck %s: %w", b.ID, err)
	}
	if ok && cur.HasPayload() {
		return cur, nil
	}

	payload, err := c.call(ctx, b)
	observability.IncUpstreamFetch(c.provider.Name(), err)
	if err != nil {
		c.log.WarnContext(parent, "upstream fetch failed", "bucket", b.ID, "err", err)
		return model.Record{}, &FetchError{Bucket: b.ID, Err: err}
	}

	rec = model.Record{
		BucketID:    b.ID,
		Lat:         b.Lat,
		Lon:         b.Lon,
		Payload:     &payload,
		LastUpdated: c.now().Unix(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.ErrorContext(parent, "store fetched record", "bucket", b.ID, "err", err)
		if !errors.Is(err, ErrStorage) {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return model.Record{}, err
	}

	c.events.Publish(events.Event{Type: events.Created, BucketID: b.ID, Lat: b.Lat, Lon: b.Lon})
	return rec, nil
}

// call shields the coordinator from a panicking provider.
func (c *Coordinator) call(ctx context.Context, b model.Bucket) (p model.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &provider.Error{
				Kind:     provider.KindTransport,
				Provider: c.provider.Name(),
				Err:      fmt.Errorf("provider panic: %v", r),
			}
		}
	}()
	return c.provider.Fetch(ctx, b.Lat, b.Lon)
}

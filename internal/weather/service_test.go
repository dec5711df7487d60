package weather

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/bucket"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/fetch"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
)

type fakeProvider struct {
	calls atomic.Int32
	down  atomic.Bool
	lat   atomic.Value
	// gate, when set, holds every fetch until closed
	gate chan struct{}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(_ context.Context, lat, lon float64) (model.Payload, error) {
	f.calls.Add(1)
	f.lat.Store([2]float64{lat, lon})
	if f.gate != nil {
		<-f.gate
	}
	if f.down.Load() {
		return model.Payload{}, &provider.Error{Kind: provider.KindTransport, Provider: "fake", Err: errors.New("unreachable")}
	}
	return model.Payload{Location: "Moscow", Temperature: 3.4, Description: "пасмурно", Icon: "04d"}, nil
}

type fixture struct {
	svc   *Service
	store recordstore.Store
	prov  *fakeProvider
	hot   *countingTracker
}

type countingTracker struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *countingTracker) Inc(id string) {
	c.mu.Lock()
	c.n[id]++
	c.mu.Unlock()
}

func newFixture(t *testing.T, store recordstore.Store) *fixture {
	t.Helper()
	if store == nil {
		store = recordstore.NewMemory()
	}
	p := &fakeProvider{}
	now := time.Unix(1700000000, 0)
	coord := fetch.New(store, p, fetch.Options{Now: func() time.Time { return now }, Logger: slog.New(slog.DiscardHandler)})
	hot := &countingTracker{n: map[string]int{}}
	svc := New(bucket.NewGrid(1), store, coord, Options{
		RetryAfter: 300 * time.Second,
		Tracker:    hot,
		Logger:     slog.New(slog.DiscardHandler),
	})
	return &fixture{svc: svc, store: store, prov: p, hot: hot}
}

func TestLookup_MissThenHitInSameBucket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Lookup(ctx, 55.75, 37.62)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if first.Kind != model.OutcomeOK || first.Source != model.SourceFetched || first.BucketID != "55.8_37.6" {
		t.Fatalf("first=%+v", first)
	}
	if first.Payload.Location != "Moscow" || first.Timestamp != 1700000000 {
		t.Fatalf("first payload=%+v ts=%d", first.Payload, first.Timestamp)
	}
	if got := f.prov.lat.Load().([2]float64); got != [2]float64{55.8, 37.6} {
		t.Fatalf("upstream queried with %v, want representative point", got)
	}

	second, err := f.svc.Lookup(ctx, 55.751, 37.619)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if second.Source != model.SourceCached || second.Timestamp != first.Timestamp || second.Payload != first.Payload {
		t.Fatalf("second=%+v", second)
	}
	if f.prov.calls.Load() != 1 {
		t.Fatalf("provider calls=%d want 1", f.prov.calls.Load())
	}
	if f.hot.n["55.8_37.6"] != 2 {
		t.Fatalf("hotness=%d want 2", f.hot.n["55.8_37.6"])
	}
}

func TestLookup_UpstreamDownYieldsWaitAndNoRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.prov.down.Store(true)

	out, err := f.svc.Lookup(context.Background(), 55.75, 37.62)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if out.Kind != model.OutcomeWait || out.RetryAfter != 300 || out.Message == "" {
		t.Fatalf("out=%+v", out)
	}
	if _, ok, _ := f.store.Get(context.Background(), "55.8_37.6"); ok {
		t.Fatalf("wait outcome left a record")
	}

	f.prov.down.Store(false)
	out, err = f.svc.Lookup(context.Background(), 55.75, 37.62)
	if err != nil || out.Kind != model.OutcomeOK || out.Source != model.SourceFetched {
		t.Fatalf("recovery out=%+v err=%v", out, err)
	}
}

func TestLookup_InvalidCoordinate(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Lookup(context.Background(), 95, 0)
	if !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("err=%v want ErrInvalidCoordinate", err)
	}
	if f.prov.calls.Load() != 0 {
		t.Fatalf("invalid input reached upstream")
	}
}

type brokenStore struct {
	recordstore.Store
	getErr, putErr error
}

func (b brokenStore) Get(ctx context.Context, id string) (model.Record, bool, error) {
	if b.getErr != nil {
		return model.Record{}, false, b.getErr
	}
	return b.Store.Get(ctx, id)
}

func (b brokenStore) Put(ctx context.Context, rec model.Record) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.Store.Put(ctx, rec)
}

func TestLookup_StorageReadFailureIsFatal(t *testing.T) {
	f := newFixture(t, brokenStore{Store: recordstore.NewMemory(), getErr: errors.Join(recordstore.ErrStorage, errors.New("conn refused"))})
	_, err := f.svc.Lookup(context.Background(), 1, 1)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v want ErrStorage", err)
	}
	if f.prov.calls.Load() != 0 {
		t.Fatalf("read failure fell through to upstream")
	}
}

func TestLookup_StorageWriteFailureIsFatal(t *testing.T) {
	f := newFixture(t, brokenStore{Store: recordstore.NewMemory(), putErr: errors.New("read-only")})
	_, err := f.svc.Lookup(context.Background(), 1, 1)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v want ErrStorage", err)
	}
}

func TestLookup_EmptyRecordTriggersFetch(t *testing.T) {
	store := recordstore.NewMemory()
	if err := store.Put(context.Background(), model.Record{BucketID: "55.8_37.6", Lat: 55.8, Lon: 37.6}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := newFixture(t, store)
	out, err := f.svc.Lookup(context.Background(), 55.8, 37.6)
	if err != nil || out.Source != model.SourceFetched {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if f.prov.calls.Load() != 1 {
		t.Fatalf("calls=%d", f.prov.calls.Load())
	}
}

type stuckResolver struct{}

func (stuckResolver) Resolve(ctx context.Context, _ model.Bucket) (model.Record, error) {
	<-ctx.Done()
	return model.Record{}, ctx.Err()
}

func TestLookup_CallerDeadlineYieldsWait(t *testing.T) {
	svc := New(bucket.NewGrid(1), recordstore.NewMemory(), stuckResolver{}, Options{Logger: slog.New(slog.DiscardHandler)})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := svc.Lookup(ctx, 10, 10)
	if err != nil || out.Kind != model.OutcomeWait || out.RetryAfter != 300 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestLookup_ConcurrentRequestsShareOneFetch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		f.prov.gate = make(chan struct{})

		const n = 20
		outs := make([]model.Outcome, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Go(func() {
				// jitter inside one bucket
				outs[i], errs[i] = f.svc.Lookup(context.Background(), 55.75+float64(i%3)*0.001, 37.62)
			})
		}
		synctest.Wait()
		close(f.prov.gate)
		wg.Wait()

		if got := f.prov.calls.Load(); got != 1 {
			t.Fatalf("provider calls=%d want 1", got)
		}
		for i := range n {
			if errs[i] != nil {
				t.Fatalf("request %d: %v", i, errs[i])
			}
			if outs[i] != outs[0] {
				t.Fatalf("request %d outcome=%+v differs from %+v", i, outs[i], outs[0])
			}
		}
		if outs[0].Kind != model.OutcomeOK || outs[0].BucketID != "55.8_37.6" {
			t.Fatalf("outcome=%+v", outs[0])
		}
	})
}

// slowFirstGet takes its snapshot on the first Get, then holds it until
// release is closed.
type slowFirstGet struct {
	recordstore.Store
	first   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *slowFirstGet) Get(ctx context.Context, id string) (model.Record, bool, error) {
	rec, ok, err := s.Store.Get(ctx, id)
	if s.first.CompareAndSwap(false, true) {
		close(s.entered)
		<-s.release
	}
	return rec, ok, err
}

func TestLookup_StaleMissJoinsFinishedFlight(t *testing.T) {
	store := &slowFirstGet{Store: recordstore.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, store)
	ctx := context.Background()

	type result struct {
		out model.Outcome
		err error
	}
	late := make(chan result, 1)
	go func() {
		out, err := f.svc.Lookup(ctx, 55.75, 37.62)
		late <- result{out, err}
	}()
	<-store.entered

	early, err := f.svc.Lookup(ctx, 55.751, 37.619)
	if err != nil || early.Kind != model.OutcomeOK {
		t.Fatalf("early=%+v err=%v", early, err)
	}
	close(store.release)
	r := <-late

	if r.err != nil || r.out.Kind != model.OutcomeOK {
		t.Fatalf("late=%+v err=%v", r.out, r.err)
	}
	if got := f.prov.calls.Load(); got != 1 {
		t.Fatalf("provider calls=%d want 1", got)
	}
	if r.out.Timestamp != early.Timestamp || r.out.Payload != early.Payload {
		t.Fatalf("late outcome %+v does not match stored %+v", r.out, early)
	}
}

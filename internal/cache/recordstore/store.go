// Package recordstore persists one weather record per bucket.
//
// Every backend satisfies Store: Get reports absence with ok=false, Put is an
// upsert that replaces the whole record for a bucket, and ListBucketIDs
// returns a point-in-time snapshot of the known buckets. Errors from the
// underlying storage are wrapped with ErrStorage.
package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

var ErrStorage = errors.New("storage failure")

type Store interface {
	Get(ctx context.Context, bucketID string) (model.Record, bool, error)
	Put(ctx context.Context, rec model.Record) error
	ListBucketIDs(ctx context.Context) ([]string, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func Encode(rec model.Record) ([]byte, error) {
	if rec.BucketID == "" {
		return nil, errors.New("record without bucket id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %q: %w", rec.BucketID, err)
	}
	return b, nil
}

func Decode(b []byte) (model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.BucketID == "" {
		return model.Record{}, errors.New("decode record: missing bucket_id")
	}
	return rec, nil
}

type timed struct {
	next Store
	d    time.Duration
}

// WithTimeout bounds every operation on next by d. d <= 0 returns next.
func WithTimeout(next Store, d time.Duration) Store {
	if d <= 0 {
		return next
	}
	return &timed{next: next, d: d}
}

func (t *timed) Get(ctx context.Context, id string) (model.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Get(ctx, id)
}

func (t *timed) Put(ctx context.Context, rec model.Record) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Put(ctx, rec)
}

func (t *timed) ListBucketIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ListBucketIDs(ctx)
}

func (t *timed) Ping(ctx context.Context) error {
	p, ok := t.next.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return p.Ping(ctx)
}

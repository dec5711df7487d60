package recordstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

// Local fronts a backend with an in-process LRU of records. Writes go to the
// backend first; the LRU is only updated after the backend accepted them.
type Local struct {
	next  Store
	cache *lru.Cache[string, model.Record]
}

// WithLocal wraps next with an LRU of size entries; size <= 0 returns next.
func WithLocal(next Store, size int) (Store, error) {
	if size <= 0 {
		return next, nil
	}
	c, err := lru.New[string, model.Record](size)
	if err != nil {
		return nil, err
	}
	return &Local{next: next, cache: c}, nil
}

func (l *Local) Get(ctx context.Context, bucketID string) (model.Record, bool, error) {
	if rec, ok := l.cache.Get(bucketID); ok {
		return clone(rec), true, nil
	}
	rec, ok, err := l.next.Get(ctx, bucketID)
	if err != nil || !ok {
		return rec, ok, err
	}
	l.cache.Add(bucketID, clone(rec))
	return rec, true, nil
}

func (l *Local) Put(ctx context.Context, rec model.Record) error {
	if err := l.next.Put(ctx, rec); err != nil {
		l.cache.Remove(rec.BucketID)
		return err
	}
	l.cache.Add(rec.BucketID, clone(rec))
	return nil
}

func (l *Local) ListBucketIDs(ctx context.Context) ([]string, error) {
	return l.next.ListBucketIDs(ctx)
}

func (l *Local) Ping(ctx context.Context) error {
	if p, ok := l.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// clone detaches the payload so callers cannot mutate cached entries.
func clone(rec model.Record) model.Record {
	if rec.Payload != nil {
		p := *rec.Payload
		rec.Payload = &p
	}
	return rec
}

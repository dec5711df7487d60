package recordstore

import (
	"context"
	"slices"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/keys"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

// Redis stores each record as JSON under keys.BucketKey with no expiry.
type Redis struct {
	c  *redisstore.Client
	ns string
}

func NewRedis(c *redisstore.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = keys.DefaultNamespace
	}
	return &Redis{c: c, ns: namespace}
}

func (r *Redis) Get(ctx context.Context, bucketID string) (model.Record, bool, error) {
	raw, ok, err := r.c.Get(ctx, keys.BucketKey(r.ns, bucketID))
	if err != nil {
		return model.Record{}, false, storageErr("get "+bucketID, err)
	}
	if !ok {
		return model.Record{}, false, nil
	}
	rec, err := Decode(raw)
	if err != nil {
		return model.Record{}, false, storageErr("get "+bucketID, err)
	}
	return rec, true, nil
}

func (r *Redis) Put(ctx context.Context, rec model.Record) error {
	raw, err := Encode(rec)
	if err != nil {
		return storageErr("put", err)
	}
	if err := r.c.Set(ctx, keys.BucketKey(r.ns, rec.BucketID), raw); err != nil {
		return storageErr("put "+rec.BucketID, err)
	}
	return nil
}

func (r *Redis) ListBucketIDs(ctx context.Context) ([]string, error) {
	ks, err := r.c.ScanKeys(ctx, keys.Pattern(r.ns))
	if err != nil {
		return nil, storageErr("list", err)
	}
	out := make([]string, 0, len(ks))
	for _, k := range ks {
		if id, ok := keys.BucketID(r.ns, k); ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.c.Close() }

package recordstore

import (
	"context"
	"errors"
	"slices"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

const dsPrefix = "/buckets"

// Datastore keeps records in any go-datastore implementation, keyed
// /buckets/<id>.
type Datastore struct {
	ds datastore.Datastore
}

// NewMemory returns an in-process store backed by a mutex-wrapped map.
func NewMemory() *Datastore {
	return NewDatastore(dssync.MutexWrap(datastore.NewMapDatastore()))
}

func NewDatastore(ds datastore.Datastore) *Datastore { return &Datastore{ds: ds} }

func dsKey(bucketID string) datastore.Key {
	return datastore.NewKey(dsPrefix).ChildString(bucketID)
}

func (d *Datastore) Get(ctx context.Context, bucketID string) (model.Record, bool, error) {
	raw, err := d.ds.Get(ctx, dsKey(bucketID))
	if errors.Is(err, datastore.ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, storageErr("get "+bucketID, err)
	}
	rec, err := Decode(raw)
	if err != nil {
		return model.Record{}, false, storageErr("get "+bucketID, err)
	}
	return rec, true, nil
}

func (d *Datastore) Put(ctx context.Context, rec model.Record) error {
	raw, err := Encode(rec)
	if err != nil {
		return storageErr("put", err)
	}
	if err := d.ds.Put(ctx, dsKey(rec.BucketID), raw); err != nil {
		return storageErr("put "+rec.BucketID, err)
	}
	return nil
}

func (d *Datastore) ListBucketIDs(ctx context.Context) ([]string, error) {
	res, err := d.ds.Query(ctx, query.Query{Prefix: dsPrefix, KeysOnly: true})
	if err != nil {
		return nil, storageErr("list", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, storageErr("list", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, datastore.RawKey(e.Key).BaseNamespace())
	}
	slices.Sort(out)
	return out, nil
}

func (d *Datastore) Ping(context.Context) error { return nil }

func (d *Datastore) Close() error { return d.ds.Close() }

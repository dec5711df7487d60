package recordstore

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

func sampleRecord(id string, ts int64) model.Record {
	return model.Record{
		BucketID: id,
		Lat:      55.8,
		Lon:      37.6,
		Payload: &model.Payload{
			Location:    "Moscow",
			Temperature: 3.4,
			Description: "пасмурно",
			Icon:        "04d",
		},
		LastUpdated: ts,
	}
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "55.8_37.6"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	rec := sampleRecord("55.8_37.6", 1700000000)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, "55.8_37.6")
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if got.BucketID != rec.BucketID || got.LastUpdated != rec.LastUpdated || got.Lat != rec.Lat || got.Lon != rec.Lon {
		t.Fatalf("record mismatch: %+v", got)
	}
	if got.Payload == nil || *got.Payload != *rec.Payload {
		t.Fatalf("payload mismatch: %+v", got.Payload)
	}

	// upsert replaces the whole record
	newer := sampleRecord("55.8_37.6", 1700003600)
	newer.Payload.Temperature = -1.5
	if err := s.Put(ctx, newer); err != nil {
		t.Fatalf("Put newer: %v", err)
	}
	got, _, _ = s.Get(ctx, "55.8_37.6")
	if got.LastUpdated != 1700003600 || got.Payload.Temperature != -1.5 {
		t.Fatalf("upsert not applied: %+v %+v", got, got.Payload)
	}

	// known bucket without payload round-trips as nil
	if err := s.Put(ctx, model.Record{BucketID: "-1.0_2.0", Lat: -1, Lon: 2}); err != nil {
		t.Fatalf("Put empty: %v", err)
	}
	empty, ok, err := s.Get(ctx, "-1.0_2.0")
	if err != nil || !ok || empty.HasPayload() || empty.LastUpdated != 0 {
		t.Fatalf("empty record: %+v ok=%v err=%v", empty, ok, err)
	}

	ids, err := s.ListBucketIDs(ctx)
	if err != nil {
		t.Fatalf("ListBucketIDs: %v", err)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"-1.0_2.0", "55.8_37.6"}) {
		t.Fatalf("ids=%v", ids)
	}

	if err := s.Put(ctx, model.Record{}); err == nil {
		t.Fatalf("Put accepted a record without bucket id")
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisStore_Contract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	s := NewRedis(c, "")
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)

	if !mr.Exists("wx:bucket:55.8_37.6") {
		t.Fatalf("expected key wx:bucket:55.8_37.6, have %v", mr.Keys())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRedisStore_FailureWrapsErrStorage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	c, err := redisstore.New(context.Background(), mr.Addr(), redisstore.WithDialTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	s := NewRedis(c, "wx")
	t.Cleanup(func() { _ = s.Close() })
	mr.Close()

	ctx := context.Background()
	if _, _, err := s.Get(ctx, "x"); !errors.Is(err, ErrStorage) {
		t.Fatalf("Get err=%v, want ErrStorage", err)
	}
	if err := s.Put(ctx, sampleRecord("x", 1)); !errors.Is(err, ErrStorage) {
		t.Fatalf("Put err=%v, want ErrStorage", err)
	}
	if _, err := s.ListBucketIDs(ctx); !errors.Is(err, ErrStorage) {
		t.Fatalf("List err=%v, want ErrStorage", err)
	}
}

func TestRedisStore_CorruptRecordIsStorageError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	c, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	s := NewRedis(c, "wx")
	t.Cleanup(func() { _ = s.Close() })

	_ = mr.Set("wx:bucket:bad", "{not json")
	if _, _, err := s.Get(context.Background(), "bad"); !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v, want ErrStorage", err)
	}
}

func TestCodec_NullPayload(t *testing.T) {
	raw, err := Encode(model.Record{BucketID: "1.0_1.0", Lat: 1, Lon: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"bucket_id":"1.0_1.0","lat":1,"lon":1,"payload":null,"last_updated":0}`
	if string(raw) != want {
		t.Fatalf("encoded %s\nwant    %s", raw, want)
	}
	rec, err := Decode(raw)
	if err != nil || rec.HasPayload() {
		t.Fatalf("Decode: %+v %v", rec, err)
	}
	if _, err := Decode([]byte(`{"lat":1}`)); err == nil {
		t.Fatalf("Decode accepted record without bucket_id")
	}
}

type slowStore struct{ Store }

func (s slowStore) Get(ctx context.Context, id string) (model.Record, bool, error) {
	<-ctx.Done()
	return model.Record{}, false, storageErr("get "+id, ctx.Err())
}

func TestWithTimeout_BoundsOperations(t *testing.T) {
	s := WithTimeout(slowStore{NewMemory()}, 20*time.Millisecond)
	start := time.Now()
	_, _, err := s.Get(context.Background(), "x")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrStorage) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
	if WithTimeout(NewMemory(), 0) == nil {
		t.Fatalf("zero timeout should return the backend")
	}
}

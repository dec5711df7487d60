package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS weather_buckets (
	bucket_id    TEXT PRIMARY KEY,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	payload      JSONB,
	last_updated BIGINT NOT NULL DEFAULT 0
)`

const upsertSQL = `INSERT INTO weather_buckets (bucket_id, lat, lon, payload, last_updated)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (bucket_id) DO UPDATE SET
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	payload = EXCLUDED.payload,
	last_updated = EXCLUDED.last_updated`

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageErr("open postgres", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	p := NewPostgres(db)
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return storageErr("create schema", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, bucketID string) (model.Record, bool, error) {
	rec := model.Record{BucketID: bucketID}
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT lat, lon, payload, last_updated FROM weather_buckets WHERE bucket_id = $1`,
		bucketID,
	).Scan(&rec.Lat, &rec.Lon, &payload, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, storageErr("get "+bucketID, err)
	}
	if payload != nil {
		var pl model.Payload
		if err := json.Unmarshal(payload, &pl); err != nil {
			return model.Record{}, false, storageErr("get "+bucketID, fmt.Errorf("decode payload: %w", err))
		}
		rec.Payload = &pl
	}
	return rec, true, nil
}

func (p *Postgres) Put(ctx context.Context, rec model.Record) error {
	if rec.BucketID == "" {
		return storageErr("put", errors.New("record without bucket id"))
	}
	// JSONB takes the text form; a []byte would be sent as bytea.
	var payload any
	if rec.Payload != nil {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return storageErr("put "+rec.BucketID, err)
		}
		payload = string(b)
	}
	if _, err := p.db.ExecContext(ctx, upsertSQL,
		rec.BucketID, rec.Lat, rec.Lon, payload, rec.LastUpdated,
	); err != nil {
		return storageErr("put "+rec.BucketID, err)
	}
	return nil
}

func (p *Postgres) ListBucketIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT bucket_id FROM weather_buckets ORDER BY bucket_id`)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("list", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return storageErr("ping postgres", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// Package model defines core domain types shared across the service.
package model

import "fmt"

type Coordinate struct {
	Lat float64
	Lon float64
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Bucket is the cache cell a coordinate falls into. Lat/Lon are the
// representative coordinates sent upstream, never the raw request values.
type Bucket struct {
	ID  string
	Lat float64
	Lon float64
}

// Payload is the normalized weather shape returned to clients.
type Payload struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
}

// Record is the persisted entry for one bucket. A nil Payload means the
// bucket is known but was never fetched successfully.
type Record struct {
	BucketID    string   `json:"bucket_id"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Payload     *Payload `json:"payload"`
	LastUpdated int64    `json:"last_updated"`
}

func (r Record) HasPayload() bool { return r.Payload != nil }

func (r Record) Bucket() Bucket {
	return Bucket{ID: r.BucketID, Lat: r.Lat, Lon: r.Lon}
}

type OutcomeKind string

const (
	OutcomeOK   OutcomeKind = "ok"
	OutcomeWait OutcomeKind = "wait"
)

type Source string

const (
	SourceCached  Source = "cached"
	SourceFetched Source = "fetched"
)

// Outcome is the transport-agnostic result of one weather lookup.
type Outcome struct {
	Kind       OutcomeKind
	Source     Source
	BucketID   string
	Payload    Payload
	Timestamp  int64
	RetryAfter int
	Message    string
}

package bucket

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

// H3 buckets coordinates into hexagonal cells; the representative
// coordinate is the cell centre.
type H3 struct {
	Res int
}

func NewH3(res int) (*H3, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return &H3{Res: res}, nil
}

func (b *H3) Scheme() string { return SchemeH3 }

func (b *H3) Bucket(lat, lon float64) (model.Bucket, error) {
	if err := ValidCoordinate(lat, lon); err != nil {
		return model.Bucket{}, err
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), b.Res)
	if err != nil {
		return model.Bucket{}, fmt.Errorf("h3 cell for %.6f,%.6f: %w", lat, lon, err)
	}
	center, err := cell.LatLng()
	if err != nil {
		return model.Bucket{}, fmt.Errorf("h3 cell centre %s: %w", cell, err)
	}
	return model.Bucket{ID: cell.String(), Lat: center.Lat, Lon: center.Lng}, nil
}

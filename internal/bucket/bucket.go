// Package bucket maps coordinates to the cache cells that share one record.
package bucket

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/model"
)

const (
	SchemeGrid = "grid"
	SchemeH3   = "h3"

	DefaultPrecision = 1
	maxPrecision     = 6
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

type Bucketer interface {
	Bucket(lat, lon float64) (model.Bucket, error)
	Scheme() string
}

// New builds the configured bucketer; unknown schemes fall back to grid.
func New(scheme string, precision, h3Res int) (Bucketer, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeGrid:
		return NewGrid(precision), nil
	case SchemeH3:
		return NewH3(h3Res)
	default:
		return nil, fmt.Errorf("unknown bucket scheme %q (want grid|h3)", scheme)
	}
}

// ValidCoordinate checks range sanity only.
func ValidCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be in [-90,90]", ErrInvalidCoordinate)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude must be in [-180,180]", ErrInvalidCoordinate)
	}
	return nil
}

// Grid rounds both axes to Precision decimal places. Rounding is half away
// from zero on the scaled value (math.Round), so 55.75 -> 55.8 and
// -55.75 -> -55.8 at precision 1. Changing the precision changes every id.
type Grid struct {
	Precision int
	scale     float64
}

func NewGrid(precision int) *Grid {
	if precision < 0 {
		precision = 0
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}
	return &Grid{Precision: precision, scale: math.Pow10(precision)}
}

func (g *Grid) Scheme() string { return SchemeGrid }

func (g *Grid) Bucket(lat, lon float64) (model.Bucket, error) {
	if err := ValidCoordinate(lat, lon); err != nil {
		return model.Bucket{}, err
	}
	rl := g.round(lat)
	rn := g.round(lon)
	return model.Bucket{ID: g.id(rl, rn), Lat: rl, Lon: rn}, nil
}

func (g *Grid) round(v float64) float64 {
	r := math.Round(v*g.scale) / g.scale
	if r == 0 {
		// drop negative zero so -0.01 and 0.01 share "0.0"
		return 0
	}
	return r
}

func (g *Grid) id(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', g.Precision, 64) + "_" +
		strconv.FormatFloat(lon, 'f', g.Precision, 64)
}

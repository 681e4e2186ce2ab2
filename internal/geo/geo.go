// Package geo defines the canonical coordinate value types used across the
// gateway. Inbound payloads are normalized into these types at the transport
// boundary; internal code never passes raw coordinate maps around.
package geo

import (
	"fmt"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
)

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// Validate checks that the point lies within coordinate range.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return apperrors.WithMetadata(apperrors.CodeInvalidCoordinate, "latitude out of range", map[string]string{
			"lat": fmt.Sprintf("%f", p.Lat),
		})
	}
	if p.Long < -180 || p.Long > 180 {
		return apperrors.WithMetadata(apperrors.CodeInvalidCoordinate, "longitude out of range", map[string]string{
			"long": fmt.Sprintf("%f", p.Long),
		})
	}
	return nil
}

// Bounds is a rectangular query region described by its south-west and
// north-east corners.
type Bounds struct {
	SW Point `json:"sw"`
	NE Point `json:"ne"`
}

// Validate checks corner ordering and coordinate range. It must be called
// before the bounds drive any side effect.
func (b Bounds) Validate() error {
	if err := b.SW.Validate(); err != nil {
		return err
	}
	if err := b.NE.Validate(); err != nil {
		return err
	}
	if b.SW.Lat > b.NE.Lat || b.SW.Long > b.NE.Long {
		return apperrors.New(apperrors.CodeInvalidBounds, "bounds corners are inverted")
	}
	return nil
}

// Contains reports whether the point lies within the bounds, inclusive of
// edges.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat &&
		p.Long >= b.SW.Long && p.Long <= b.NE.Long
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() Point {
	return Point{
		Lat:  (b.SW.Lat + b.NE.Lat) / 2,
		Long: (b.SW.Long + b.NE.Long) / 2,
	}
}

// Span returns the latitude and longitude extents of the bounds in degrees.
func (b Bounds) Span() (latSpan, longSpan float64) {
	return b.NE.Lat - b.SW.Lat, b.NE.Long - b.SW.Long
}

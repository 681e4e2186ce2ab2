// Package geoindex defines the geospatial index collaborator contract.
//
// The index is treated as eventually consistent: a query may lag the most
// recent position upsert by at least one publish latency. The gateway never
// owns the index engine, only this client-side contract.
package geoindex

import (
	"context"

	"github.com/vendloc/vendloc/internal/geo"
)

// Vendor is an index hit: a vendor id with its last known position.
// Positions ride along with query results so roster payloads can carry
// absolute locations without a second lookup.
type Vendor struct {
	ID       string
	Location geo.Point
}

// Index is the geospatial index client contract.
type Index interface {
	// Upsert inserts or moves a vendor's position.
	Upsert(ctx context.Context, vendorID string, position geo.Point) error

	// QueryBounds returns the vendors currently inside bounds. An empty
	// result is valid output, not an error.
	QueryBounds(ctx context.Context, bounds geo.Bounds) ([]Vendor, error)
}

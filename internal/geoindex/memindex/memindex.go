// Package memindex provides an in-memory geospatial index for tests and
// single-node runs.
package memindex

import (
	"context"
	"sync"

	"github.com/vendloc/vendloc/internal/geo"
	"github.com/vendloc/vendloc/internal/geoindex"
)

// Index is a mutex-guarded in-memory geoindex.Index implementation.
type Index struct {
	mu        sync.Mutex
	positions map[string]geo.Point
}

// New creates an empty index.
func New() *Index {
	return &Index{positions: make(map[string]geo.Point)}
}

// Upsert inserts or moves a vendor's position.
func (i *Index) Upsert(_ context.Context, vendorID string, position geo.Point) error {
	if err := position.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	i.positions[vendorID] = position
	i.mu.Unlock()
	return nil
}

// QueryBounds returns the vendors currently inside bounds.
func (i *Index) QueryBounds(_ context.Context, bounds geo.Bounds) ([]geoindex.Vendor, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var hits []geoindex.Vendor
	for vendorID, position := range i.positions {
		if bounds.Contains(position) {
			hits = append(hits, geoindex.Vendor{ID: vendorID, Location: position})
		}
	}
	return hits, nil
}
